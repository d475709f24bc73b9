package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/ratelimit"
)

type ctxKey int

const claimsKey ctxKey = iota

// claimsFrom returns the caller's claims set by authenticate.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

// userIDFrom returns the authenticated caller's user id.
func userIDFrom(ctx context.Context) string {
	if c := claimsFrom(ctx); c != nil {
		return c.UserID()
	}
	return ""
}

// authenticate requires a valid bearer token with a live session.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.Sessions.Validate(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// notSuspended rejects suspended callers with 403. A failed lookup lets the
// request through.
func (s *Server) notSuspended(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Suspensions == nil {
			next(w, r)
			return
		}
		uid := userIDFrom(r.Context())
		suspended, remaining, reason, err := s.Suspensions.IsSuspended(r.Context(), uid)
		if err != nil {
			s.logger.Warn("suspension lookup failed, failing open", zap.String("user_id", uid), zap.Error(err))
		}
		if suspended {
			writeRetry(w, http.StatusForbidden, "suspended", reason, remaining)
			return
		}
		next(w, r)
	}
}

// limitByUser throttles the authenticated caller under rule.
func (s *Server) limitByUser(rule ratelimit.Rule, next http.HandlerFunc) http.HandlerFunc {
	return s.limit(rule, func(r *http.Request) string { return userIDFrom(r.Context()) }, next)
}

// limitByAddr throttles by client address, for routes used before login.
func (s *Server) limitByAddr(rule ratelimit.Rule, next http.HandlerFunc) http.HandlerFunc {
	return s.limit(rule, s.clientAddr, next)
}

func (s *Server) limit(rule ratelimit.Rule, key func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next(w, r)
			return
		}
		id := key(r)
		// Allow fails open on Redis errors and logs them itself.
		if ok, _ := s.Limiter.Allow(r.Context(), id, rule); !ok {
			writeRetry(w, http.StatusTooManyRequests, "rate_limited", "", s.Limiter.RetryAfter(r.Context(), id, rule))
			return
		}
		next(w, r)
	}
}

// clientAddr is the caller's IP. X-Forwarded-For is only read when the
// connection comes from a trusted proxy; hops are walked from the right and
// the first address not in TrustedProxies wins.
func (s *Server) clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (s *Server) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDR ranges or bare IPs.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("api: trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("api: trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// statusRecorder captures the response code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument records request latency under the route pattern.
func (s *Server) instrument(pattern string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(pattern, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("request failed",
				zap.String("route", pattern),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed),
			)
		}
	})
}

// recoverer turns handler panics into 500s.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panic",
					zap.Any("panic", p),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
