// Package sessions provides an in-memory registry of the protocol
// sessions (IMAP, POP3, webmail) currently open for each account. The
// API's logout operation walks the registry and closes everything an
// account owns. The registry is process-local and resets naturally on
// restart.
package sessions

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hivemail/hivemail/internal/account"
)

// Closer is implemented by protocol frontends for each live session.
// Close is called at most once per registered session; the reason is a
// short operator-supplied string surfaced to the client where the
// protocol allows it.
type Closer interface {
	Close(reason string)
}

// Registry tracks open sessions keyed by account id.
type Registry struct {
	mu   sync.RWMutex
	next uint64
	open map[string]map[uint64]Closer

	log *zap.SugaredLogger
}

var _ account.Sessions = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{
		open: make(map[string]map[uint64]Closer),
		log:  log,
	}
}

// Register adds a session for the account and returns a handle used to
// unregister it when the session ends on its own.
func (r *Registry) Register(accountID string, c Closer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	handle := r.next
	m := r.open[accountID]
	if m == nil {
		m = make(map[uint64]Closer)
		r.open[accountID] = m
	}
	m[handle] = c
	return handle
}

// Unregister removes a session that closed by itself. Unknown handles
// are ignored, a session may already have been removed by Logout.
func (r *Registry) Unregister(accountID string, handle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.open[accountID]
	if m == nil {
		return
	}
	delete(m, handle)
	if len(m) == 0 {
		delete(r.open, accountID)
	}
}

// Count returns the number of open sessions for the account.
func (r *Registry) Count(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open[accountID])
}

// Logout closes every open session of the account and reports how many
// were closed. Close runs outside the registry lock so a slow frontend
// cannot stall concurrent registrations.
func (r *Registry) Logout(accountID, reason string) int {
	r.mu.Lock()
	m := r.open[accountID]
	delete(r.open, accountID)
	r.mu.Unlock()

	for _, c := range m {
		c.Close(reason)
	}
	if len(m) > 0 {
		r.log.Infow("sessions closed", "id", accountID, "count", len(m), "reason", reason)
	}
	return len(m)
}
