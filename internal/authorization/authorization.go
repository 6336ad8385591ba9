// Package authorization defines the contract between the dispatcher and the
// collaborator that performs the actual protocol exchange with the tax
// authority. The dispatcher decides whether and when to call; the supplied
// function does the signing and the wire exchange.
package authorization

import (
	"context"
	"time"
)

// Payload is the result of one successful authorization exchange.
type Payload struct {
	// CAE is the authorization code issued by the tax authority
	CAE string `json:"cae"`

	// CAEExpiry is when the issued code stops being valid
	CAEExpiry time.Time `json:"cae_expiry"`

	// Observations are non-fatal remarks returned alongside an approval
	Observations []string `json:"observations,omitempty"`
}

// Credentials is the per-tenant material required to call the service.
type Credentials struct {
	TenantID    string `json:"tenant_id"`
	CUIT        string `json:"cuit"`
	PointOfSale int    `json:"point_of_sale"`

	// Certificate and PrivateKey are PEM blocks used by the protocol
	// collaborator to sign requests
	Certificate []byte `json:"-"`
	PrivateKey  []byte `json:"-"`
}

// Complete reports whether the credentials are sufficient to attempt a call.
func (c Credentials) Complete() bool {
	return c.CUIT != "" && c.PointOfSale > 0 && len(c.Certificate) > 0 && len(c.PrivateKey) > 0
}

// CallFunc performs one authorization attempt for the given work reference.
// Implementations must respect ctx cancellation and deadlines.
type CallFunc func(ctx context.Context, workRef string, creds Credentials) (*Payload, error)
