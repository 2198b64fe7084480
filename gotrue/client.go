package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bullishbrief/briefauth/identity"
	"go.uber.org/zap"
)

const (
	otpPath    = "/auth/v1/otp"
	verifyPath = "/auth/v1/verify"

	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config configures a Client.
type Config struct {
	URL    string
	APIKey string
	// Timeout bounds each request. Zero means 3s.
	Timeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient uses hc's transport, redirect policy and cookie jar. The
// client keeps its own copy with Timeout set from Config.Timeout; hc is not
// modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to a GoTrue-compatible provider.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	sessions identity.SessionPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewClient builds a Client. An empty URL or key yields
// identity.ErrNotConfigured. sessions may be nil, in which case verified
// sessions are discarded.
func NewClient(cfg Config, sessions identity.SessionPublisher, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, identity.ErrNotConfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:  base,
		apiKey:   cfg.APIKey,
		http:     &http.Client{},
		sessions: sessions,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	hc.Timeout = timeout
	c.http = &hc
	return c, nil
}

type otpRequest struct {
	Email      string            `json:"email"`
	CreateUser bool              `json:"create_user"`
	Data       map[string]string `json:"data,omitempty"`
}

type verifyRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        struct {
		ID           string            `json:"id"`
		Email        string            `json:"email"`
		UserMetadata map[string]string `json:"user_metadata"`
	} `json:"user"`
}

// SendOTP asks the provider to mail a one-time passcode.
func (c *Client) SendOTP(ctx context.Context, req identity.SendRequest) error {
	body := otpRequest{
		Email:      req.Email,
		CreateUser: req.CreateUser,
	}
	if req.Username != "" {
		body.Data = map[string]string{"username": req.Username}
	}

	_, err := c.post(ctx, otpPath, body)
	if err != nil {
		c.logger.Debug("otp send rejected",
			zap.String("email", identity.MaskEmail(req.Email)),
			zap.Error(err))
		return err
	}
	return nil
}

// VerifyOTP submits the passcode and publishes the resulting session.
func (c *Client) VerifyOTP(ctx context.Context, req identity.VerifyRequest) error {
	data, err := c.post(ctx, verifyPath, verifyRequest{
		Type:  "email",
		Email: req.Email,
		Token: req.Token,
	})
	if err != nil {
		c.logger.Debug("otp verify rejected",
			zap.String("email", identity.MaskEmail(req.Email)),
			zap.Error(err))
		return err
	}

	var resp sessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return &identity.UpstreamError{Message: "verify response missing session", Status: http.StatusBadGateway}
	}

	session := identity.Session{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		User: identity.User{
			ID:       resp.User.ID,
			Email:    resp.User.Email,
			Username: resp.User.UserMetadata["username"],
		},
	}
	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		session.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if c.sessions != nil {
		c.sessions.Publish(session)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gotrue %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("gotrue %s: read body: %w", path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeError(resp.StatusCode, data)
}

// errorBody covers both error shapes GoTrue has used: the current
// {code, error_code, msg} and the OAuth-style {error, error_description}.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeError(status int, data []byte) *identity.UpstreamError {
	out := &identity.UpstreamError{Status: status}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		out.Message = strings.TrimSpace(string(data))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}

	out.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error)
	out.Code = body.ErrorCode
	if out.Code == "" {
		out.Code = rawCode(body.Code)
	}
	if out.Code == "" && body.ErrorDescription != "" {
		out.Code = body.Error
	}
	return out
}

func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// IsUpstream reports whether err carries a provider answer.
func IsUpstream(err error) bool {
	var up *identity.UpstreamError
	return errors.As(err, &up)
}
