package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UploadLimiter rate-limits roster uploads per client IP. Parsing and
// matching a file is the most expensive request the service handles.
type UploadLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	every    time.Duration
	burst    int
	trusted  []netip.Prefix
}

// NewUploadLimiter allows perMinute uploads per IP with the given burst.
// perMinute <= 0 disables limiting. Stale entries are dropped until ctx
// is done.
func NewUploadLimiter(ctx context.Context, perMinute, burst int) *UploadLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &UploadLimiter{
		limiters: make(map[string]*ipLimiter),
		burst:    burst,
	}
	if perMinute > 0 {
		rl.every = time.Minute / time.Duration(perMinute)
		go rl.cleanup(ctx)
	}
	return rl
}

// SetTrustedProxies lists the proxies, as IPs or CIDR prefixes, whose
// X-Forwarded-For and X-Real-Ip headers are believed. With none set the
// connection address is always the client.
func (rl *UploadLimiter) SetTrustedProxies(proxies []string) error {
	prefixes := make([]netip.Prefix, 0, len(proxies))
	for _, p := range proxies {
		prefix, err := parsePrefix(p)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		prefixes = append(prefixes, prefix)
	}
	rl.trusted = prefixes
	return nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Middleware rejects requests over the limit with 429.
func (rl *UploadLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.every == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many uploads, try again later"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *UploadLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (rl *UploadLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, entry := range rl.limiters {
				if time.Since(entry.lastSeen) > 15*time.Minute {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientIP returns the connection address unless it belongs to a trusted
// proxy. Then X-Forwarded-For is walked from the nearest hop back, and the
// first address that is not a trusted proxy is the client. X-Real-Ip is
// used when a trusted proxy sends no X-Forwarded-For.
func (rl *UploadLimiter) clientIP(r *http.Request) string {
	remote := remoteHost(r)
	if !rl.isTrusted(remote) {
		return remote
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !rl.isTrusted(hop) {
				return hop
			}
			remote = hop
		}
		return remote
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	return remote
}

// remoteHost is the connection address without its port.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (rl *UploadLimiter) isTrusted(ip string) bool {
	if len(rl.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
