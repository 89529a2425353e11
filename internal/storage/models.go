package storage

import (
	"time"

	"github.com/hivemail/hivemail/internal/account"
)

// AccountRow is the persisted account document. List-valued fields
// (tags, targets) are JSON-serialized into text columns; the unameview
// column carries the uniqueness constraint, not the display username.
type AccountRow struct {
	ID        string `gorm:"primaryKey;size:24"`
	Username  string
	Unameview string `gorm:"uniqueIndex;size:64"`

	Address  string `gorm:"index"`
	Name     string
	Language string

	Tags     []string `gorm:"serializer:json"`
	Tagsview []string `gorm:"serializer:json"`

	EncryptMessages  bool
	EncryptForwarded bool
	PubKey           string

	SpamLevel   int
	RetentionMs int64

	Targets []account.Target `gorm:"serializer:json"`

	Quota           int64
	Recipients      int64
	Forwards        int64
	ReceivedMax     int64
	ImapMaxUpload   int64
	ImapMaxDownload int64
	Pop3MaxDownload int64

	PasswordHash     string
	TempPasswordHash string
	TempValidAfter   int64

	Activated bool
	Disabled  bool

	StorageUsed int64

	CreatedAt int64
}

// MessageRow is the per-message size record used by the quota recompute.
// Message content lives in the platform's message store; this table only
// tracks ownership and size.
type MessageRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"index;size:24"`
	Size      int64
	CreatedAt int64
}

// toAccount converts a row into the domain representation.
func (r *AccountRow) toAccount() *account.Account {
	a := &account.Account{
		ID:               r.ID,
		Username:         r.Username,
		Unameview:        r.Unameview,
		Address:          r.Address,
		Name:             r.Name,
		Language:         r.Language,
		Tags:             r.Tags,
		Tagsview:         r.Tagsview,
		EncryptMessages:  r.EncryptMessages,
		EncryptForwarded: r.EncryptForwarded,
		PubKey:           r.PubKey,
		SpamLevel:        r.SpamLevel,
		Retention:        time.Duration(r.RetentionMs) * time.Millisecond,
		Targets:          r.Targets,
		Limits: account.Limits{
			Quota:           r.Quota,
			Recipients:      r.Recipients,
			Forwards:        r.Forwards,
			ReceivedMax:     r.ReceivedMax,
			ImapMaxUpload:   r.ImapMaxUpload,
			ImapMaxDownload: r.ImapMaxDownload,
			Pop3MaxDownload: r.Pop3MaxDownload,
		},
		HasPassword:     r.PasswordHash != "",
		HasTempPassword: r.TempPasswordHash != "",
		Activated:       r.Activated,
		Disabled:        r.Disabled,
		StorageUsed:     r.StorageUsed,
		Created:         time.Unix(r.CreatedAt, 0),
	}
	if r.TempValidAfter != 0 {
		a.TempValidAfter = time.Unix(r.TempValidAfter, 0)
	}
	return a
}
