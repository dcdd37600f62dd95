package main

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type ctxKey int

const requestIDKey ctxKey = iota

// securityHeaders adds security-related HTTP headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// accessLog tags each request with an ID (reusing X-Request-ID when the
// caller sent one) and logs it once the handler returns.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

const rateLimiterMaxSize = 10000
const rateLimiterEvictAge = time.Hour

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client IP. The map never grows past
// maxSize: idle entries go first, then the least recently seen.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    time.Duration
	burst    int
	maxSize  int
}

func newIPLimiter(every time.Duration, burst int) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		every:    every,
		burst:    burst,
		maxSize:  rateLimiterMaxSize,
	}
}

func (l *ipLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= l.maxSize {
			l.evict(now)
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipLimiter) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > rateLimiterEvictAge {
			delete(l.visitors, k)
			continue
		}
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = k, v.lastSeen
		}
	}
	if len(l.visitors) >= l.maxSize {
		delete(l.visitors, oldestKey)
	}
}

// clientIP is the peer address. X-Forwarded-For is only honoured when the
// server sits behind a trusted proxy that sets it.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if f := r.Header.Get("X-Forwarded-For"); f != "" {
			return strings.TrimSpace(strings.Split(f, ",")[0])
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func adminKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-Admin-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// adminOrRateLimit guards expensive endpoints. With an admin key configured
// only callers presenting it pass, unthrottled; without one, callers are
// rate limited per IP.
func adminOrRateLimit(adminKey string, limiter *ipLimiter, trustProxy bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminKey != "" {
			if subtle.ConstantTimeCompare([]byte(adminKeyFrom(r)), []byte(adminKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "admin key required")
				return
			}
			next(w, r)
			return
		}
		if !limiter.allow(clientIP(r, trustProxy)) {
			respondWithError(w, http.StatusTooManyRequests, "rate limit: try again in a few seconds")
			return
		}
		next(w, r)
	}
}
