package options

import (
	"net/http"
	"time"

	"github.com/sagarc03/anystore"
)

// DefaultPresignRegion and DefaultPresignService are used when a backend is
// configured to presign through a gateway without naming them.
const (
	DefaultPresignRegion  = "us-east-1"
	DefaultPresignService = "s3"
)

// Presign configures gateway presigning for backends without native
// presign support. Backends embed it with `mapstructure:",squash"`.
type Presign struct {
	Endpoint  string `mapstructure:"presign_endpoint" validate:"omitempty,url"`
	Region    string `mapstructure:"presign_region"`
	AccessKey string `mapstructure:"presign_access_key" validate:"required_with=Endpoint"`
	SecretKey string `mapstructure:"presign_secret_key" validate:"required_with=Endpoint"`
}

// Signer returns the configured signer, or nil when presigning is off.
func (p Presign) Signer() (*anystore.Signer, error) {
	if p.Endpoint == "" {
		return nil, nil
	}
	region := p.Region
	if region == "" {
		region = DefaultPresignRegion
	}
	s, err := anystore.NewSigner(p.Endpoint, region, DefaultPresignService, p.AccessKey, p.SecretKey)
	if err != nil {
		return nil, anystore.NewError(anystore.KindInvalidInput, "presign configuration").WithCause(err)
	}
	return s, nil
}

// PresignMethod returns the HTTP method a presigned request for op uses.
func PresignMethod(op anystore.Operation) (string, bool) {
	switch op {
	case anystore.OpRead:
		return http.MethodGet, true
	case anystore.OpStat:
		return http.MethodHead, true
	case anystore.OpWrite:
		return http.MethodPut, true
	default:
		return "", false
	}
}

// SignRequest presigns path with s. A nil signer means presigning is not
// configured.
func SignRequest(s *anystore.Signer, path string, op anystore.Operation, expires time.Duration) (anystore.PresignedRequest, error) {
	if s == nil {
		return anystore.PresignedRequest{}, anystore.NewError(anystore.KindUnsupported, "presign endpoint is not configured")
	}
	method, ok := PresignMethod(op)
	if !ok {
		return anystore.PresignedRequest{}, anystore.NewError(anystore.KindInvalidInput, "only read, stat and write can be presigned")
	}
	return s.Presign(method, path, expires)
}

// WithPresign sets the presign flags of c when presigning is configured.
func WithPresign(c anystore.Capability, s *anystore.Signer) anystore.Capability {
	if s == nil {
		return c
	}
	c.Presign = true
	c.PresignRead = true
	c.PresignStat = true
	c.PresignWrite = true
	return c
}
