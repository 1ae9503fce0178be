package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"pushsync/pkg/lib/jwt"
	resp "pushsync/pkg/lib/response"
)

var ErrInvalidKey = errors.New("invalid api key")

// NewKeyAuth accepts requests carrying "Authorization: Bearer <key>". An empty
// key disables the check.
func NewKeyAuth(key string, log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		log = log.With(
			slog.String("op", "middlewareKeyAuth"),
		)

		if key == "" {
			log.Warn("control api key not set, auth disabled")
			return next
		}
		log.Info("auth middleware enabled")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := jwt.ExtractBearerFromHeader(r)
			if err != nil {
				handleAuthError(w, r, log, err)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				handleAuthError(w, r, log, ErrInvalidKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	log.Warn("auth error", slog.String("error", err.Error()))
	resp.SendError(w, r, http.StatusUnauthorized, err.Error())
}
