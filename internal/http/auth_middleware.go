package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// actor identifies which credential class authenticated a request. It only
// feeds the audit log.
type actor string

const (
	actorOrchestrator actor = "orchestrator"
	actorBus          actor = "bus"
)

// requireToken gates a handler behind a static bearer token. Tokens are
// compared in constant time. For websocket upgrades, where custom headers
// are awkward for browser clients, the token may instead arrive as an
// access_token query parameter.
func (r *Router) requireToken(expected string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if expected == "" {
			r.logger.Error("bearer token not configured", "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "authentication misconfigured")
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			if qt := strings.TrimSpace(req.URL.Query().Get("access_token")); qt != "" {
				token = qt
			} else {
				r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
		}
		if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			r.logger.Warn("bearer token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		next(w, req)
	}
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

func requestActor(req *http.Request) actor {
	if req.URL.Path == "/v1/events" {
		return actorBus
	}
	return actorOrchestrator
}
