package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bullishbrief/briefauth/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, sessions identity.SessionPublisher) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL + "/", APIKey: "anon-key", Timeout: time.Second}, sessions)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresEndpointAndKey(t *testing.T) {
	_, err := NewClient(Config{URL: "", APIKey: "k"}, nil)
	assert.ErrorIs(t, err, identity.ErrNotConfigured)

	_, err = NewClient(Config{URL: "http://localhost", APIKey: " "}, nil)
	assert.ErrorIs(t, err, identity.ErrNotConfigured)
}

func TestSendOTPRequestShape(t *testing.T) {
	var got otpRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, otpPath, r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}, nil)

	err := c.SendOTP(context.Background(), identity.SendRequest{
		Email:      "reader@example.com",
		Username:   "bull_1",
		CreateUser: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", got.Email)
	assert.True(t, got.CreateUser)
	assert.Equal(t, "bull_1", got.Data["username"])
}

func TestSendOTPDecodesErrorBodies(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   identity.UpstreamError
	}{
		{
			name:   "current shape",
			status: http.StatusTooManyRequests,
			body:   `{"code":429,"error_code":"over_email_send_rate_limit","msg":"For security purposes, you can only request this after 53 seconds."}`,
			want: identity.UpstreamError{
				Status:  429,
				Code:    "over_email_send_rate_limit",
				Message: "For security purposes, you can only request this after 53 seconds.",
			},
		},
		{
			name:   "numeric code only",
			status: http.StatusUnprocessableEntity,
			body:   `{"code":422,"msg":"Signups not allowed for otp"}`,
			want:   identity.UpstreamError{Status: 422, Code: "422", Message: "Signups not allowed for otp"},
		},
		{
			name:   "oauth shape",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid_request","error_description":"Unable to validate email address: invalid format"}`,
			want: identity.UpstreamError{
				Status:  400,
				Code:    "invalid_request",
				Message: "Unable to validate email address: invalid format",
			},
		},
		{
			name:   "plain text",
			status: http.StatusBadGateway,
			body:   `upstream connect error`,
			want:   identity.UpstreamError{Status: 502, Message: "upstream connect error"},
		},
		{
			name:   "empty body",
			status: http.StatusServiceUnavailable,
			body:   ``,
			want:   identity.UpstreamError{Status: 503, Message: "Service Unavailable"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, nil)

			err := c.SendOTP(context.Background(), identity.SendRequest{Email: "a@b.co"})
			var up *identity.UpstreamError
			require.True(t, errors.As(err, &up), "expected upstream error, got %v", err)
			assert.Equal(t, tc.want, *up)
			assert.True(t, IsUpstream(err))
		})
	}
}

func TestVerifyOTPPublishesSession(t *testing.T) {
	store := identity.NewMemorySessionStore()
	var got verifyRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"access_token":"tok",
			"token_type":"bearer",
			"expires_in":3600,
			"user":{"id":"u-1","email":"reader@example.com","user_metadata":{"username":"bull_1"}}
		}`))
	}, store)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	err := c.VerifyOTP(context.Background(), identity.VerifyRequest{Email: "reader@example.com", Token: "123456"})
	require.NoError(t, err)
	assert.Equal(t, verifyRequest{Type: "email", Email: "reader@example.com", Token: "123456"}, got)

	user := store.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, identity.User{ID: "u-1", Email: "reader@example.com", Username: "bull_1"}, *user)

	sess, ok := store.Session()
	require.True(t, ok)
	assert.Equal(t, fixed.Add(time.Hour), sess.ExpiresAt)
	assert.Equal(t, "tok", sess.AccessToken)
}

func TestVerifyOTPFailureDoesNotPublish(t *testing.T) {
	store := identity.NewMemorySessionStore()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":403,"error_code":"otp_expired","msg":"Token has expired or is invalid"}`))
	}, store)

	err := c.VerifyOTP(context.Background(), identity.VerifyRequest{Email: "a@b.co", Token: "000000"})
	var up *identity.UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "otp_expired", up.Code)
	assert.Nil(t, store.CurrentUser())
}

func TestVerifyOTPMissingSessionIsUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, nil)

	err := c.VerifyOTP(context.Background(), identity.VerifyRequest{Email: "a@b.co", Token: "123456"})
	var up *identity.UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, http.StatusBadGateway, up.Status)
}

func TestClientTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := NewClient(Config{URL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	err = c.SendOTP(context.Background(), identity.SendRequest{Email: "a@b.co"})
	require.Error(t, err)
	assert.False(t, IsUpstream(err))
}

func TestWithHTTPClientLeavesCallerClientUntouched(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	shared := &http.Client{Timeout: time.Minute, Transport: srv.Client().Transport}
	c, err := NewClient(Config{URL: srv.URL, APIKey: "anon-key", Timeout: 2 * time.Second}, nil, WithHTTPClient(shared))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, shared.Timeout)
	assert.NotSame(t, shared, c.http)
	assert.Equal(t, 2*time.Second, c.http.Timeout)
	assert.Equal(t, shared.Transport, c.http.Transport)

	require.NoError(t, c.SendOTP(context.Background(), identity.SendRequest{Email: "reader@example.com"}))
	assert.Equal(t, int32(1), hits.Load())
}
