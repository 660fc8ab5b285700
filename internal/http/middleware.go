package httpx

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"microblog/internal/auth"
	"microblog/internal/util"
)

const CookieName = "session_id"

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			// anonymous
			next.ServeHTTP(w, r)
			return
		}

		uid, exp, err := auth.UserFromSession(r.Context(), s.DB, c.Value)
		if err == nil && exp.After(time.Now()) {
			r = r.WithContext(auth.WithUserID(r.Context(), uid))
		} else {
			s.Log.Debug("session rejected", zap.Error(err), zap.Time("expires", exp))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserIDFrom(r.Context()); !ok {
			util.Error(w, http.StatusUnauthorized, "Please log in to access this page.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLastSeen stamps the authenticated user's last_seen before the handler
// runs. A failure is logged and does not fail the request.
func (s *Server) withLastSeen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := auth.UserIDFrom(r.Context()); ok {
			if err := auth.TouchLastSeen(r.Context(), s.DB, uid, time.Now()); err != nil {
				s.Log.Warn("last seen update failed", zap.Int64("user_id", uid), zap.Error(err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authed chains the session requirement and last-seen stamping.
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.requireAuth(s.withLastSeen(h))
}

// ——— access log ———

type statusRW struct {
	http.ResponseWriter
	status int
}

func (w *statusRW) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// WithAccessLog logs METHOD PATH -> STATUS (duration) for every request.
func WithAccessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRW{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// WithTimeout bounds the whole request to d.
func WithTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.TimeoutHandler(next, d, "request timeout")
}
