package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/homecare/claims/internal/platform/x12"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3

	maxResponseBytes = 4 << 20
)

// transientStatus lists the HTTP statuses retried for inquiry exchanges.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config holds the endpoint and per-organization credentials.
type Config struct {
	Endpoint    string
	Username    string
	Password    string
	SenderID    string
	ReceiverID  string
	RuleVersion string
	Timeout     time.Duration
	MaxAttempts int
}

// Client performs CORE real-time exchanges over HTTPS.
type Client struct {
	cfg       Config
	http      *retryablehttp.Client
	logger    zerolog.Logger
	now       func() time.Time
	payloadID func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for exchange and retry events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is used as
// is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// WithRetryWait bounds the backoff between attempts.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = minWait
		c.http.RetryWaitMax = maxWait
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithPayloadID overrides the payload id generator.
func WithPayloadID(fn func() string) Option {
	return func(c *Client) { c.payloadID = fn }
}

// New builds a client. Inquiry exchanges are attempted up to MaxAttempts
// times on connection errors and transient gateway statuses.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("core: endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("core: invalid endpoint: %w", err)
	}
	if cfg.RuleVersion == "" {
		cfg.RuleVersion = DefaultRuleVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = giveUp

	c := &Client{
		cfg:       cfg,
		http:      rc,
		logger:    zerolog.Nop(),
		now:       time.Now,
		payloadID: newPayloadID,
	}
	for _, opt := range opts {
		opt(c)
	}
	rc.Logger = leveledLogger{log: c.logger.With().Str("component", "core").Logger()}
	rc.RequestLogHook = c.logAttempt
	return c, nil
}

// newPayloadID returns a time-ordered UUID so payload ids sort by send time.
func newPayloadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CheckEligibility sends a 270 and decodes the 271. A malformed 271 is not an
// error; it comes back as an inactive response carrying the parse failure.
func (c *Client) CheckEligibility(ctx context.Context, req x12.EligibilityRequest, enc *x12.Encoder) (*x12.EligibilityResponse, error) {
	ic, err := enc.Encode270(req)
	if err != nil {
		return nil, err
	}
	payload, err := c.Exchange(ctx, PayloadType270, ic.Bytes())
	if err != nil {
		return nil, err
	}
	return x12.Decode271(payload), nil
}

// CheckClaimStatus sends a 276 and decodes the 277.
func (c *Client) CheckClaimStatus(ctx context.Context, req x12.ClaimStatusRequest, enc *x12.Encoder) (*x12.ClaimStatusResponse, error) {
	ic, err := enc.Encode276(req)
	if err != nil {
		return nil, err
	}
	payload, err := c.Exchange(ctx, PayloadType276, ic.Bytes())
	if err != nil {
		return nil, err
	}
	return x12.Decode277(payload)
}

type exchangeState struct {
	retry    bool
	attempts int
}

type stateKey struct{}

// Exchange posts one payload and returns the payload of the response
// envelope. Every failure is a *TransportError.
func (c *Client) Exchange(ctx context.Context, payloadType string, payload []byte) ([]byte, error) {
	req := RealTimeRequest{
		PayloadType:     payloadType,
		ProcessingMode:  ProcessingModeRT,
		PayloadID:       c.payloadID(),
		TimeStamp:       c.now(),
		SenderID:        c.cfg.SenderID,
		ReceiverID:      c.cfg.ReceiverID,
		CORERuleVersion: c.cfg.RuleVersion,
		Payload:         payload,
	}
	log := c.logger.With().
		Str("transaction", payloadType).
		Str("payload_id", req.PayloadID).
		Logger()

	body, err := MarshalEnvelope(req, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return nil, &TransportError{PayloadType: payloadType, Message: "build envelope", Err: err}
	}

	state := &exchangeState{retry: payloadType == PayloadType270 || payloadType == PayloadType276}
	hreq, err := retryablehttp.NewRequestWithContext(context.WithValue(ctx, stateKey{}, state), http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, &TransportError{PayloadType: payloadType, Message: "build request", Err: err}
	}
	hreq.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = &TransportError{Attempts: state.attempts, Err: err}
		}
		te.PayloadType = payloadType
		log.Error().Err(te).Int("attempt", te.Attempts).Msg("core exchange failed")
		return nil, te
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{PayloadType: payloadType, StatusCode: resp.StatusCode, Attempts: state.attempts, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TransportError{PayloadType: payloadType, StatusCode: resp.StatusCode, Attempts: state.attempts}
		if _, ferr := UnmarshalEnvelope(raw); ferr != nil {
			te.Err = ferr
		}
		log.Error().Err(te).Int("status", resp.StatusCode).Msg("core exchange rejected")
		return nil, te
	}

	coreResp, err := UnmarshalEnvelope(raw)
	if err != nil {
		return nil, &TransportError{PayloadType: payloadType, StatusCode: resp.StatusCode, Attempts: state.attempts, Message: "malformed response envelope", Err: err}
	}
	if coreResp.ErrorCode != "" && coreResp.ErrorCode != ErrorCodeSuccess {
		te := &TransportError{
			PayloadType: payloadType,
			StatusCode:  resp.StatusCode,
			Attempts:    state.attempts,
			Code:        coreResp.ErrorCode,
			Message:     coreResp.ErrorMessage,
		}
		log.Warn().Err(te).Msg("core exchange returned payer error")
		return nil, te
	}
	if coreResp.Payload == "" {
		return nil, &TransportError{PayloadType: payloadType, StatusCode: resp.StatusCode, Attempts: state.attempts, Message: "response payload is empty"}
	}

	log.Info().
		Int("attempt", state.attempts).
		Dur("elapsed", time.Since(start)).
		Msg("core exchange complete")
	return []byte(coreResp.Payload), nil
}

func (c *Client) logAttempt(_ retryablehttp.Logger, req *http.Request, retry int) {
	state, ok := req.Context().Value(stateKey{}).(*exchangeState)
	if ok {
		state.attempts = retry + 1
	}
	if retry > 0 {
		c.logger.Warn().Int("attempt", retry+1).Msg("retrying core exchange")
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if state, ok := ctx.Value(stateKey{}).(*exchangeState); ok && !state.retry {
		return false, nil
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return transientStatus[resp.StatusCode], nil
}

// giveUp runs once retries are exhausted or a request cannot be retried.
func giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	te := &TransportError{Attempts: numTries, Err: err}
	if resp != nil {
		te.StatusCode = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
	return nil, te
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Info().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
