// Package afip implements the default protocol collaborator: an HTTP client
// for the tax authority's invoice authorization endpoint. It translates
// transport and service failures into the dispatcher's error taxonomy so
// the retry classifier can tell transient from terminal.
package afip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"cae-dispatcher/internal/authorization"
	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
)

// Config holds the caller configuration.
type Config struct {
	// Endpoint receives authorization requests
	Endpoint string
	// Timeout bounds the whole HTTP exchange
	Timeout time.Duration
	// MaxIdleConnsPerHost tunes connection reuse against the single host
	MaxIdleConnsPerHost int
}

// DefaultConfig reads AFIP_ENDPOINT-compatible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:            "https://wswhomo.afip.gov.ar/wsfev1/authorize",
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 10,
	}
}

// Caller performs authorization calls. Safe for concurrent use.
type Caller struct {
	config Config
	client *http.Client
	logger logging.Logger
}

// NewCaller builds a caller with a pooled transport.
func NewCaller(config Config, logger logging.Logger) *Caller {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = 10
	}

	return &Caller{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.WithFields(logging.Field{Key: "component", Value: "afip"}),
	}
}

type authorizeRequest struct {
	WorkRef     string `json:"work_ref"`
	CUIT        string `json:"cuit"`
	PointOfSale int    `json:"point_of_sale"`
}

type authorizeResponse struct {
	CAE          string   `json:"cae"`
	CAEExpiry    string   `json:"cae_expiry"`
	Observations []string `json:"observations"`
	Error        string   `json:"error"`
}

// Call requests authorization for one work reference. The signing material
// travels on the TLS client side in production deployments; this transport
// sends the identifying fields and relies on the mutual-TLS session.
func (c *Caller) Call(ctx context.Context, workRef string, creds authorization.Credentials) (*authorization.Payload, error) {
	body, err := json.Marshal(authorizeRequest{
		WorkRef:     workRef,
		CUIT:        creds.CUIT,
		PointOfSale: creds.PointOfSale,
	})
	if err != nil {
		return nil, apperrors.InternalError("failed to marshal authorization request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.InternalError("failed to build authorization request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, apperrors.CancelledError("authorization call cancelled")
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, apperrors.TimeoutError("authorization call")
		}
		return nil, apperrors.ConnectionError("authorization call failed", err)
	}
	defer resp.Body.Close()

	var decoded authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.ServiceError("malformed authorization response", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.ServiceError(serviceMessage(decoded, resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, apperrors.ValidationError(serviceMessage(decoded, resp.StatusCode))
	default:
		return nil, apperrors.ServiceError(serviceMessage(decoded, resp.StatusCode), resp.StatusCode)
	}

	if decoded.CAE == "" {
		return nil, apperrors.ValidationError("authorization approved without a CAE code")
	}

	payload := &authorization.Payload{
		CAE:          decoded.CAE,
		Observations: decoded.Observations,
	}
	if decoded.CAEExpiry != "" {
		expiry, err := time.Parse("2006-01-02", decoded.CAEExpiry)
		if err != nil {
			return nil, apperrors.ValidationError("malformed CAE expiry: " + decoded.CAEExpiry)
		}
		payload.CAEExpiry = expiry
	}

	c.logger.Debug("Authorization granted",
		logging.Field{Key: "work_ref", Value: workRef},
		logging.Field{Key: "cae", Value: decoded.CAE},
	)
	return payload, nil
}

func serviceMessage(decoded authorizeResponse, status int) string {
	if decoded.Error != "" {
		return decoded.Error
	}
	return fmt.Sprintf("authorization service returned status %d", status)
}
