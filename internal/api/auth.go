package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Failed-attempt limit: after this many failures within the window, the
// IP is refused before the token is even compared.
const (
	maxFailedAttempts = 10
	failureWindow     = time.Minute
)

// authenticator gates requests on a bearer token. Comparison is
// constant-time; repeated failures from one IP are rate limited.
type authenticator struct {
	token string
	log   *zap.SugaredLogger

	mu     sync.Mutex
	failed map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newAuthenticator(token string, log *zap.SugaredLogger) *authenticator {
	a := &authenticator{
		token:  token,
		log:    log,
		failed: make(map[string][]time.Time),
		stop:   make(chan struct{}),
	}

	// Stale failure entries are cleaned in the background so IPs that
	// never return do not accumulate.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.cleanup()
			case <-a.stop:
				return
			}
		}
	}()

	return a
}

// close stops the background cleanup. Safe to call more than once.
func (a *authenticator) close() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *authenticator) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticate(r) {
			writeError(w, "auth", CodeInvalidToken, "invalid or missing access token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate checks the Authorization bearer token. An empty
// configured token disables the API entirely.
func (a *authenticator) authenticate(r *http.Request) bool {
	if a.token == "" {
		return false
	}

	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimPrefix(header, prefix)

	ip := extractIP(r.RemoteAddr)
	if !a.allowAttempt(ip) {
		a.log.Warnw("auth rate limit hit", "ip", ip)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1 {
		a.clearFailures(ip)
		return true
	}

	a.recordFailure(ip)
	return false
}

// allowAttempt reports whether the IP is under the failure limit. It
// prunes expired entries but does not record an attempt.
func (a *authenticator) allowAttempt(ip string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-failureWindow)
	var recent []time.Time
	for _, t := range a.failed[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	a.failed[ip] = recent
	return len(recent) < maxFailedAttempts
}

func (a *authenticator) recordFailure(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[ip] = append(a.failed[ip], time.Now())
}

func (a *authenticator) clearFailures(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failed, ip)
}

func (a *authenticator) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-failureWindow)
	for ip, attempts := range a.failed {
		var recent []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(a.failed, ip)
		} else {
			a.failed[ip] = recent
		}
	}
}

// extractIP strips the port from a remote address like "1.2.3.4:12345"
// or "[::1]:12345".
func extractIP(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return strings.Trim(addr[:idx], "[]")
	}
	return addr
}
