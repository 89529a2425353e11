// Package usage reads time-windowed usage counters from the ephemeral
// counter store and merges them with static per-account limits into the
// limits view of the detail response.
//
// The counter store is a platform-external collaborator; this package
// defines its read surface and ships an in-memory implementation for
// single-node deployments and tests.
package usage

import (
	"context"
	"time"
)

// Window identifies one usage window kind. The string form doubles as
// the counter-store key suffix.
type Window string

const (
	WindowSent         Window = "sent"
	WindowForwarded    Window = "forwarded"
	WindowReceived     Window = "received"
	WindowImapUpload   Window = "imap-upload"
	WindowImapDownload Window = "imap-download"
	WindowPop3Download Window = "pop3-download"
)

// Windows lists every kind in the order the limits view reports them.
var Windows = []Window{
	WindowSent,
	WindowForwarded,
	WindowReceived,
	WindowImapUpload,
	WindowImapDownload,
	WindowPop3Download,
}

// Counter is one live reading: the consumed amount and the remaining
// window lifetime in seconds. A negative TTL is the store's convention
// for "no expiry set".
type Counter struct {
	Used int64
	TTL  int64
}

// Store is the ephemeral keyed counter store. Counters expire with their
// window; the store never persists anything.
type Store interface {
	// ReadBatch reads the counters of every requested window for one
	// account as a single pipelined multi-read. The batch minimizes
	// round trips but is not atomic; it fails or succeeds as a whole.
	ReadBatch(ctx context.Context, accountID string, windows []Window) ([]Counter, error)

	// Add increments a window's counter by n, creating it with the given
	// lifetime when absent, and returns the new value. The lifetime of
	// an existing counter is not extended.
	Add(ctx context.Context, accountID string, w Window, n int64, lifetime time.Duration) (int64, error)
}
