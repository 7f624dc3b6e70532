package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const (
	maxJSONBodyBytes  = 1 << 20
	maxPasswordLength = 72 // bcrypt input limit
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	body, ok := parseCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.service.Signup(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "username already taken")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to sign up")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := parseCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	body, ok := parseToken(w, r)
	if !ok {
		return
	}

	access, err := h.service.Refresh(r.Context(), body.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, ErrSessionRevoked):
			writeError(w, http.StatusForbidden, "session revoked")
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	body, ok := parseToken(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), body.Token); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func parseCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return credentialsRequest{}, false
	}

	body.Username = strings.TrimSpace(body.Username)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return credentialsRequest{}, false
	}
	if body.Password == "" || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return credentialsRequest{}, false
	}

	return body, true
}

func parseToken(w http.ResponseWriter, r *http.Request) (tokenRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body tokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return tokenRequest{}, false
	}

	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return tokenRequest{}, false
	}

	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
