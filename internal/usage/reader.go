package usage

import (
	"context"

	"go.uber.org/zap"

	"github.com/hivemail/hivemail/internal/account"
	"github.com/hivemail/hivemail/internal/config"
	"github.com/hivemail/hivemail/internal/metrics"
)

// Reader merges static per-account limits with live counters into the
// limits view. Usage display is best-effort: a failed batch read zeroes
// every window instead of failing the request.
type Reader struct {
	Store    Store
	Defaults config.Defaults
	Log      *zap.SugaredLogger
}

// Limits assembles the merged view for one account. The six counters are
// read in a single batch; `allowed` comes from the account's static
// limit (platform default when unset) independently of the live values.
func (r Reader) Limits(ctx context.Context, a *account.Account) account.LimitsView {
	view := account.LimitsView{
		Quota: account.BuildQuota(a, r.Defaults.MaxStorage),
	}

	counters, err := r.Store.ReadBatch(ctx, a.ID, Windows)
	if err != nil || len(counters) != len(Windows) {
		// Degrade, don't fail: usage numbers are enrichment, not the
		// primary entity. The metric is the loud part.
		r.Log.Warnw("usage counter batch read failed, serving zeroed windows",
			"account", a.ID, "err", err)
		metrics.UsageReadsDegraded.Inc()
		counters = make([]Counter, len(Windows))
		for i := range counters {
			counters[i] = Counter{TTL: -1}
		}
		view.Degraded = true
	}

	windows := map[Window]*account.WindowView{
		WindowSent:         &view.Recipients,
		WindowForwarded:    &view.Forwards,
		WindowReceived:     &view.Received,
		WindowImapUpload:   &view.ImapUpload,
		WindowImapDownload: &view.ImapDownload,
		WindowPop3Download: &view.Pop3Download,
	}
	for i, w := range Windows {
		dst := windows[w]
		dst.Allowed = r.allowed(a, w)
		dst.Used = counters[i].Used
		if counters[i].TTL >= 0 {
			dst.TTL = account.TTL{Seconds: counters[i].TTL, HasExpiry: true}
		} else {
			dst.TTL = account.NoExpiry
		}
	}
	return view
}

// allowed resolves the static limit for a window: the account's own
// configured value when present and non-zero, else the platform default.
func (r Reader) allowed(a *account.Account, w Window) int64 {
	pick := func(own, def int64) int64 {
		if own > 0 {
			return own
		}
		return def
	}
	switch w {
	case WindowSent:
		return pick(a.Limits.Recipients, r.Defaults.MaxRecipients)
	case WindowForwarded:
		return pick(a.Limits.Forwards, r.Defaults.MaxForwards)
	case WindowReceived:
		return pick(a.Limits.ReceivedMax, r.Defaults.MaxReceived)
	case WindowImapUpload:
		return pick(a.Limits.ImapMaxUpload, r.Defaults.ImapMaxUpload)
	case WindowImapDownload:
		return pick(a.Limits.ImapMaxDownload, r.Defaults.ImapMaxDownload)
	case WindowPop3Download:
		return pick(a.Limits.Pop3MaxDownload, r.Defaults.Pop3MaxDownload)
	}
	return 0
}
