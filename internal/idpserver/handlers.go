package idpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bullishbrief/briefauth/identity"
	"github.com/bullishbrief/briefauth/middleware"
)

type otpRequest struct {
	Email      string         `json:"email"`
	CreateUser *bool          `json:"create_user"`
	Data       map[string]any `json:"data"`
}

type verifyRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

type userBody struct {
	ID           string            `json:"id"`
	Aud          string            `json:"aud,omitempty"`
	Email        string            `json:"email"`
	UserMetadata map[string]string `json:"user_metadata"`
}

type sessionBody struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	ExpiresAt   int64    `json:"expires_at"`
	User        userBody `json:"user"`
}

type errorBody struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Msg       string `json:"msg"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        "briefauth-idp",
		"description": "One-time passcode identity provider",
	})
}

func (s *Server) handleOTP(w http.ResponseWriter, r *http.Request) {
	var body otpRequest
	if !s.decode(w, r, &body) {
		return
	}
	req := identity.SendRequest{
		Email:      body.Email,
		CreateUser: body.CreateUser == nil || *body.CreateUser,
	}
	if name, ok := body.Data["username"].(string); ok {
		req.Username = name
	}

	if err := s.provider.SendOTP(r.Context(), req); err != nil {
		s.metrics.observeOutcome("send", outcomeCode(err))
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeOutcome("send", "")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if !s.decode(w, r, &body) {
		return
	}
	switch body.Type {
	case "email", "signup", "magiclink":
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:      http.StatusBadRequest,
			ErrorCode: "validation_failed",
			Msg:       "Verify requires a verification type",
		})
		return
	}

	session, err := s.provider.VerifyOTP(r.Context(), identity.VerifyRequest{Email: body.Email, Token: body.Token})
	if err != nil {
		s.metrics.observeOutcome("verify", outcomeCode(err))
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeOutcome("verify", "")

	expiresIn := int64(session.ExpiresAt.Sub(s.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	writeJSON(w, http.StatusOK, sessionBody{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresIn:   expiresIn,
		ExpiresAt:   session.ExpiresAt.Unix(),
		User:        toUserBody(session.User),
	})
}

// handleUser returns the reader behind the bearer access token.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: http.StatusUnauthorized, ErrorCode: "no_authorization", Msg: "This endpoint requires a Bearer token"})
		return
	}
	writeJSON(w, http.StatusOK, toUserBody(user))
}

func toUserBody(u identity.User) userBody {
	return userBody{
		ID:           u.ID,
		Aud:          "authenticated",
		Email:        u.Email,
		UserMetadata: map[string]string{"username": u.Username},
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:      http.StatusBadRequest,
			ErrorCode: "bad_json",
			Msg:       "Could not parse request body as JSON",
		})
		return false
	}
	return true
}

// writeError answers with the provider's error, or a generic 500 for
// anything that is not an upstream error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var up *identity.UpstreamError
	if !errors.As(err, &up) || up == nil {
		s.logger.Error("unexpected provider error",
			zap.String("request_id", identity.RequestIDFromContext(r.Context())),
			zap.Error(err))
		up = &identity.UpstreamError{Status: http.StatusInternalServerError, Code: "unexpected_failure", Message: "Unexpected failure"}
	}
	status := up.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Code: status, ErrorCode: up.Code, Msg: up.Message})
}

func outcomeCode(err error) string {
	var up *identity.UpstreamError
	if errors.As(err, &up) && up != nil {
		if code := strings.TrimSpace(up.Code); code != "" {
			return code
		}
		return "generic"
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
