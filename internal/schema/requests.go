package schema

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hivemail/hivemail/internal/account"
)

// CreateRequest is the typed body of account creation. Targets are still
// raw strings here; classification happens after validation.
type CreateRequest struct {
	Username string
	Password account.PasswordValue
	Address  string
	Name     string
	Language string

	Tags    []string
	Targets []string

	EncryptMessages  bool
	EncryptForwarded bool
	PubKey           string

	SpamLevel   int
	RetentionMs int64

	Quota           int64
	Recipients      int64
	Forwards        int64
	ReceivedMax     int64
	ImapMaxUpload   int64
	ImapMaxDownload int64
	Pop3MaxDownload int64
}

// ParseCreate validates a creation body.
func ParseCreate(body []byte) (*CreateRequest, Violations) {
	req := &CreateRequest{}
	table := Table{
		{Name: "username", Required: true, Parse: func(raw json.RawMessage) error {
			if err := json.Unmarshal(raw, &req.Username); err != nil {
				return err
			}
			if !account.ValidUsername(req.Username) {
				return errors.New("must be 3-32 lowercase alphanumerics with interior dots")
			}
			return nil
		}},
		{Name: "password", Required: true, Parse: func(raw json.RawMessage) error {
			return json.Unmarshal(raw, &req.Password)
		}},
		{Name: "address", Parse: String(&req.Address)},
		{Name: "name", Parse: StringBound(&req.Name, 0, 256)},
		{Name: "language", Parse: StringBound(&req.Language, 0, 20)},
		{Name: "tags", Parse: Strings(&req.Tags, nil)},
		{Name: "targets", Parse: Strings(&req.Targets, nil)},
		{Name: "encryptMessages", Parse: Bool(&req.EncryptMessages)},
		{Name: "encryptForwarded", Parse: Bool(&req.EncryptForwarded)},
		{Name: "pubKey", Parse: String(&req.PubKey)},
		{Name: "spamLevel", Parse: Int(&req.SpamLevel, 0, 100)},
		{Name: "retention", Parse: Int64Min(&req.RetentionMs, 0)},
		{Name: "quota", Parse: Int64Min(&req.Quota, 0)},
		{Name: "recipients", Parse: Int64Min(&req.Recipients, 0)},
		{Name: "forwards", Parse: Int64Min(&req.Forwards, 0)},
		{Name: "receivedMax", Parse: Int64Min(&req.ReceivedMax, 0)},
		{Name: "imapMaxUpload", Parse: Int64Min(&req.ImapMaxUpload, 0)},
		{Name: "imapMaxDownload", Parse: Int64Min(&req.ImapMaxDownload, 0)},
		{Name: "pop3MaxDownload", Parse: Int64Min(&req.Pop3MaxDownload, 0)},
	}
	if v := table.Apply(body); v != nil {
		return nil, v
	}
	return req, nil
}

// NewAccount converts a validated creation body into mutator input.
// Targets must already be classified by the caller.
func (r *CreateRequest) NewAccount(targets []account.Target) account.NewAccount {
	return account.NewAccount{
		Username:         r.Username,
		Password:         r.Password,
		Address:          r.Address,
		Name:             r.Name,
		Language:         r.Language,
		Tags:             r.Tags,
		Targets:          targets,
		EncryptMessages:  r.EncryptMessages,
		EncryptForwarded: r.EncryptForwarded,
		PubKey:           r.PubKey,
		SpamLevel:        r.SpamLevel,
		Retention:        time.Duration(r.RetentionMs) * time.Millisecond,
		Limits: account.Limits{
			Quota:           r.Quota,
			Recipients:      r.Recipients,
			Forwards:        r.Forwards,
			ReceivedMax:     r.ReceivedMax,
			ImapMaxUpload:   r.ImapMaxUpload,
			ImapMaxDownload: r.ImapMaxDownload,
			Pop3MaxDownload: r.Pop3MaxDownload,
		},
	}
}

// UpdateRequest is the typed body of a profile update. Absent keys leave
// the stored value unchanged.
type UpdateRequest struct {
	Name     *string
	Address  *string
	Language *string

	Password    *account.PasswordValue
	HasPassword bool

	Tags    []string
	HasTags bool

	Targets    []string
	HasTargets bool

	EncryptMessages  *bool
	EncryptForwarded *bool
	PubKey           *string

	SpamLevel   *int
	RetentionMs *int64

	Quota           *int64
	Recipients      *int64
	Forwards        *int64
	ReceivedMax     *int64
	ImapMaxUpload   *int64
	ImapMaxDownload *int64
	Pop3MaxDownload *int64

	Activated *bool
	Disabled  *bool
}

// ParseUpdate validates an update body.
func ParseUpdate(body []byte) (*UpdateRequest, Violations) {
	req := &UpdateRequest{}
	table := Table{
		{Name: "name", Parse: StringPtr(&req.Name)},
		{Name: "address", Parse: StringPtr(&req.Address)},
		{Name: "language", Parse: StringPtr(&req.Language)},
		{Name: "password", Parse: func(raw json.RawMessage) error {
			var p account.PasswordValue
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			req.Password = &p
			req.HasPassword = true
			return nil
		}},
		{Name: "tags", Parse: Strings(&req.Tags, &req.HasTags)},
		{Name: "targets", Parse: Strings(&req.Targets, &req.HasTargets)},
		{Name: "encryptMessages", Parse: BoolPtr(&req.EncryptMessages)},
		{Name: "encryptForwarded", Parse: BoolPtr(&req.EncryptForwarded)},
		{Name: "pubKey", Parse: StringPtr(&req.PubKey)},
		{Name: "spamLevel", Parse: IntPtr(&req.SpamLevel, 0, 100)},
		{Name: "retention", Parse: Int64PtrMin(&req.RetentionMs, 0)},
		{Name: "quota", Parse: Int64PtrMin(&req.Quota, 0)},
		{Name: "recipients", Parse: Int64PtrMin(&req.Recipients, 0)},
		{Name: "forwards", Parse: Int64PtrMin(&req.Forwards, 0)},
		{Name: "receivedMax", Parse: Int64PtrMin(&req.ReceivedMax, 0)},
		{Name: "imapMaxUpload", Parse: Int64PtrMin(&req.ImapMaxUpload, 0)},
		{Name: "imapMaxDownload", Parse: Int64PtrMin(&req.ImapMaxDownload, 0)},
		{Name: "pop3MaxDownload", Parse: Int64PtrMin(&req.Pop3MaxDownload, 0)},
		{Name: "activated", Parse: BoolPtr(&req.Activated)},
		{Name: "disabled", Parse: BoolPtr(&req.Disabled)},
	}
	if v := table.Apply(body); v != nil {
		return nil, v
	}
	return req, nil
}

// Empty reports whether the body carried no mutable field at all.
func (r *UpdateRequest) Empty() bool {
	return r.Name == nil && r.Address == nil && r.Language == nil &&
		!r.HasPassword && !r.HasTags && !r.HasTargets &&
		r.EncryptMessages == nil && r.EncryptForwarded == nil && r.PubKey == nil &&
		r.SpamLevel == nil && r.RetentionMs == nil &&
		r.Quota == nil && r.Recipients == nil && r.Forwards == nil &&
		r.ReceivedMax == nil && r.ImapMaxUpload == nil && r.ImapMaxDownload == nil &&
		r.Pop3MaxDownload == nil && r.Activated == nil && r.Disabled == nil
}

// Update converts a validated update body into mutator input. Targets
// must already be classified by the caller.
func (r *UpdateRequest) Update(targets []account.Target) account.Update {
	upd := account.Update{
		Name:             r.Name,
		Address:          r.Address,
		Language:         r.Language,
		Password:         r.Password,
		Tags:             r.Tags,
		HasTags:          r.HasTags,
		Targets:          targets,
		HasTargets:       r.HasTargets,
		EncryptMessages:  r.EncryptMessages,
		EncryptForwarded: r.EncryptForwarded,
		PubKey:           r.PubKey,
		SpamLevel:        r.SpamLevel,
		Limits: account.LimitsUpdate{
			Quota:           r.Quota,
			Recipients:      r.Recipients,
			Forwards:        r.Forwards,
			ReceivedMax:     r.ReceivedMax,
			ImapMaxUpload:   r.ImapMaxUpload,
			ImapMaxDownload: r.ImapMaxDownload,
			Pop3MaxDownload: r.Pop3MaxDownload,
		},
		Activated: r.Activated,
		Disabled:  r.Disabled,
	}
	if r.RetentionMs != nil {
		d := time.Duration(*r.RetentionMs) * time.Millisecond
		upd.Retention = &d
	}
	return upd
}

// LogoutRequest is the typed body of a forced logout.
type LogoutRequest struct {
	Reason string
}

// ParseLogout validates a logout body. An empty body is acceptable.
func ParseLogout(body []byte) (*LogoutRequest, Violations) {
	req := &LogoutRequest{}
	table := Table{
		{Name: "reason", Parse: StringBound(&req.Reason, 0, 128)},
	}
	if v := table.Apply(body); v != nil {
		return nil, v
	}
	return req, nil
}

// PasswordResetRequest is the typed body of a temporary-password issue.
type PasswordResetRequest struct {
	ValidAfter time.Time
}

// ParsePasswordReset validates a password-reset body. validAfter is
// RFC 3339; absent means "valid immediately".
func ParsePasswordReset(body []byte, now time.Time) (*PasswordResetRequest, Violations) {
	req := &PasswordResetRequest{ValidAfter: now}
	table := Table{
		{Name: "validAfter", Parse: func(raw json.RawMessage) error {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return errors.New("must be an RFC 3339 timestamp")
			}
			req.ValidAfter = t
			return nil
		}},
	}
	if v := table.Apply(body); v != nil {
		return nil, v
	}
	return req, nil
}

// ListRequest is the typed form of the listing query string.
type ListRequest struct {
	Query        string
	Tags         []string
	RequiredTags []string

	Limit    int
	Page     int
	Next     string
	Previous string
}

// ParseList validates the listing query parameters. Tag parameters are
// comma-separated; limit and page must be positive integers when given.
func ParseList(q url.Values) (*ListRequest, Violations) {
	req := &ListRequest{
		Query:        q.Get("query"),
		Tags:         splitTags(q.Get("tags")),
		RequiredTags: splitTags(q.Get("requiredTags")),
		Next:         q.Get("next"),
		Previous:     q.Get("previous"),
	}

	var out Violations
	parseNum := func(name string, dst *int) {
		raw := q.Get(name)
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			out = append(out, Violation{Field: name, Message: "must be a positive integer"})
			return
		}
		*dst = n
	}
	parseNum("limit", &req.Limit)
	parseNum("page", &req.Page)

	if out != nil {
		return nil, out
	}
	return req, nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
