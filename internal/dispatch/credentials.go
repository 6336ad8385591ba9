package dispatch

import (
	"regexp"
	"sync"

	"cae-dispatcher/internal/authorization"
	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/crypto"
	"cae-dispatcher/internal/ratelimit"
)

var cuitPattern = regexp.MustCompile(`^\d{11}$`)

// credentialBlob is the encrypted-at-rest representation of one tenant's
// material. PEM blocks travel as strings so the JSON round trip is exact.
type credentialBlob struct {
	CUIT        string `json:"cuit"`
	PointOfSale int    `json:"point_of_sale"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

// CredentialRegistry holds tenant credentials AES-GCM-encrypted in memory.
// Registration is the dispatch precondition: tenants without complete
// material are rejected before anything reaches the queue.
type CredentialRegistry struct {
	mu        sync.RWMutex
	encryptor *crypto.Encryptor
	sealed    map[string]string
}

// NewCredentialRegistry creates a registry keyed by the given passphrase.
func NewCredentialRegistry(passphrase string) (*CredentialRegistry, error) {
	encryptor, err := crypto.NewEncryptor(passphrase)
	if err != nil {
		return nil, err
	}
	return &CredentialRegistry{
		encryptor: encryptor,
		sealed:    make(map[string]string),
	}, nil
}

// Register validates and stores one tenant's credentials, replacing any
// previous registration for the tenant.
func (r *CredentialRegistry) Register(creds authorization.Credentials) error {
	if creds.TenantID == "" {
		return apperrors.ValidationError("tenant id is required")
	}
	// "global" would alias the global limiter and breaker scopes
	if creds.TenantID == ratelimit.GlobalScope {
		return apperrors.ValidationError("tenant id " + ratelimit.GlobalScope + " is reserved")
	}
	if !cuitPattern.MatchString(creds.CUIT) {
		return apperrors.ValidationError("CUIT must be exactly 11 digits")
	}
	if !creds.Complete() {
		return apperrors.ValidationError("credentials are incomplete: CUIT, point of sale, certificate and private key are all required")
	}

	sealed, err := r.encryptor.SealJSON(credentialBlob{
		CUIT:        creds.CUIT,
		PointOfSale: creds.PointOfSale,
		Certificate: string(creds.Certificate),
		PrivateKey:  string(creds.PrivateKey),
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sealed[creds.TenantID] = sealed
	r.mu.Unlock()
	return nil
}

// Get decrypts and returns the credentials for a tenant.
func (r *CredentialRegistry) Get(tenantID string) (authorization.Credentials, error) {
	r.mu.RLock()
	sealed, ok := r.sealed[tenantID]
	r.mu.RUnlock()

	if !ok {
		return authorization.Credentials{}, apperrors.ConfigError("no credentials registered for tenant " + tenantID)
	}

	var blob credentialBlob
	if err := r.encryptor.OpenJSON(sealed, &blob); err != nil {
		return authorization.Credentials{}, err
	}

	return authorization.Credentials{
		TenantID:    tenantID,
		CUIT:        blob.CUIT,
		PointOfSale: blob.PointOfSale,
		Certificate: []byte(blob.Certificate),
		PrivateKey:  []byte(blob.PrivateKey),
	}, nil
}

// Has reports whether a tenant is registered.
func (r *CredentialRegistry) Has(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sealed[tenantID]
	return ok
}

// Remove drops a tenant's registration.
func (r *CredentialRegistry) Remove(tenantID string) {
	r.mu.Lock()
	delete(r.sealed, tenantID)
	r.mu.Unlock()
}

// Tenants lists registered tenant ids.
func (r *CredentialRegistry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]string, 0, len(r.sealed))
	for tenant := range r.sealed {
		tenants = append(tenants, tenant)
	}
	return tenants
}
