package claims

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clearinghouse accepts claim files for forwarding to the payer and returns
// its own reference for the submission.
type Clearinghouse interface {
	Submit(ctx context.Context, filename string, content []byte) (string, error)
}

// AvailityStub stands in for the Availity clearinghouse API. It checks that
// credentials are configured and accepts every file without sending it.
type AvailityStub struct {
	APIKey   string
	Secret   string
	Endpoint string
	Logger   zerolog.Logger
}

// NewAvailityStub returns a stub using the organization's Availity
// credentials.
func NewAvailityStub(org OrgConfig, endpoint string, logger zerolog.Logger) *AvailityStub {
	return &AvailityStub{
		APIKey:   org.AvailityAPIKey,
		Secret:   org.AvailitySecret,
		Endpoint: endpoint,
		Logger:   logger.With().Str("component", "availity").Logger(),
	}
}

func (a *AvailityStub) Submit(ctx context.Context, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.APIKey == "" || a.Secret == "" {
		return "", &ValidationError{Message: "availity api key and secret are required"}
	}
	if len(content) == 0 {
		return "", errors.New("availity: empty claim file")
	}
	ref := "AV-" + uuid.NewString()
	a.Logger.Warn().Str("filename", filename).Str("reference", ref).Str("endpoint", a.Endpoint).
		Int("bytes", len(content)).Msg("availity submission is stubbed; file was not transmitted")
	return ref, nil
}
