package account

import "encoding/json"

// TTL is the remaining lifetime of a usage window. The counter store
// reports "no expiry set" as a negative TTL; on the wire that becomes the
// literal false, while a non-negative TTL is the remaining seconds.
type TTL struct {
	Seconds   int64
	HasExpiry bool
}

// MarshalJSON renders the seconds, or false when no expiry is set.
func (t TTL) MarshalJSON() ([]byte, error) {
	if !t.HasExpiry {
		return []byte("false"), nil
	}
	return json.Marshal(t.Seconds)
}

// NoExpiry is the TTL for counters without a deadline.
var NoExpiry = TTL{}

// QuotaView is the storage portion of the limits view.
type QuotaView struct {
	Allowed int64 `json:"allowed"`
	Used    int64 `json:"used"`
}

// WindowView is one time-windowed usage limit: the configured allowance,
// the live counter and the window's remaining TTL.
type WindowView struct {
	Allowed int64 `json:"allowed"`
	Used    int64 `json:"used"`
	TTL     TTL   `json:"ttl"`
}

// LimitsView is the merged limits block of the detail response.
type LimitsView struct {
	Quota        QuotaView  `json:"quota"`
	Recipients   WindowView `json:"recipients"`
	Forwards     WindowView `json:"forwards"`
	Received     WindowView `json:"received"`
	ImapUpload   WindowView `json:"imapUpload"`
	ImapDownload WindowView `json:"imapDownload"`
	Pop3Download WindowView `json:"pop3Download"`

	// Degraded is set when the counter batch read failed and every window
	// was zeroed. It is deliberately not serialized; the wire payload is
	// indistinguishable from genuinely idle accounts, but callers and
	// tests can still tell the cases apart.
	Degraded bool `json:"-"`
}

// KeyInfo is the identity metadata extracted from a verified public key.
type KeyInfo struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Fingerprint string `json:"fingerprint"`
}

// ListItem is the lightweight field subset served once per listing row.
// Per-window rate-limit detail is deliberately absent: it costs six
// counter-store round trips and is only computed for the detail view.
type ListItem struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	Tags             []string  `json:"tags"`
	Targets          []string  `json:"targets"`
	EncryptMessages  bool      `json:"encryptMessages"`
	EncryptForwarded bool      `json:"encryptForwarded"`
	Quota            QuotaView `json:"quota"`
	HasPasswordSet   bool      `json:"hasPasswordSet"`
	Activated        bool      `json:"activated"`
	Disabled         bool      `json:"disabled"`
}

// Detail is the full single-account representation. KeyInfo carries
// *KeyInfo on success and false when no key is set or the stored key no
// longer verifies.
type Detail struct {
	Success          bool        `json:"success"`
	ID               string      `json:"id"`
	Username         string      `json:"username"`
	Name             string      `json:"name"`
	Address          string      `json:"address"`
	Language         string      `json:"language"`
	Retention        int64       `json:"retention"`
	SpamLevel        int         `json:"spamLevel"`
	Tags             []string    `json:"tags"`
	Targets          []string    `json:"targets"`
	EncryptMessages  bool        `json:"encryptMessages"`
	EncryptForwarded bool        `json:"encryptForwarded"`
	KeyInfo          interface{} `json:"keyInfo"`
	Limits           LimitsView  `json:"limits"`
	HasPasswordSet   bool        `json:"hasPasswordSet"`
	Activated        bool        `json:"activated"`
	Disabled         bool        `json:"disabled"`
}

// BuildQuota merges the static quota limit with the storage counter:
// zero/unset limits fall back to the platform allowance and corrupt
// negative usage clamps to zero.
func BuildQuota(a *Account, defaultStorage int64) QuotaView {
	allowed := a.Limits.Quota
	if allowed <= 0 {
		allowed = defaultStorage
	}
	used := a.StorageUsed
	if used < 0 {
		used = 0
	}
	return QuotaView{Allowed: allowed, Used: used}
}

// BuildListItem assembles the listing row for an account.
func BuildListItem(a *Account, defaultStorage int64) ListItem {
	return ListItem{
		ID:               a.ID,
		Username:         a.Username,
		Name:             a.Name,
		Address:          a.Address,
		Tags:             emptyNotNil(a.Tags),
		Targets:          emptyNotNil(TargetValues(a.Targets)),
		EncryptMessages:  a.EncryptMessages,
		EncryptForwarded: a.EncryptForwarded,
		Quota:            BuildQuota(a, defaultStorage),
		HasPasswordSet:   a.HasPasswordSet(),
		Activated:        a.Activated,
		Disabled:         a.Disabled,
	}
}

// BuildDetail assembles the full representation. keyInfo is *KeyInfo or
// nil (serialized as false); limits is the merged view from the limits
// reader.
func BuildDetail(a *Account, keyInfo *KeyInfo, limits LimitsView) Detail {
	d := Detail{
		Success:          true,
		ID:               a.ID,
		Username:         a.Username,
		Name:             a.Name,
		Address:          a.Address,
		Language:         a.Language,
		Retention:        a.Retention.Milliseconds(),
		SpamLevel:        a.SpamLevel,
		Tags:             emptyNotNil(a.Tags),
		Targets:          emptyNotNil(TargetValues(a.Targets)),
		EncryptMessages:  a.EncryptMessages,
		EncryptForwarded: a.EncryptForwarded,
		KeyInfo:          false,
		Limits:           limits,
		HasPasswordSet:   a.HasPasswordSet(),
		Activated:        a.Activated,
		Disabled:         a.Disabled,
	}
	if keyInfo != nil {
		d.KeyInfo = keyInfo
	}
	return d
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
