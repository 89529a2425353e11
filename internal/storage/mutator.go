package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/hivemail/hivemail/internal/account"
)

// GormMutator owns transactional account writes: create, field-wise
// update, delete and temporary-password issue. It is the default
// implementation of the account.Mutator collaborator.
type GormMutator struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewMutator wraps an open database.
func NewMutator(db *gorm.DB, log *zap.SugaredLogger) *GormMutator {
	return &GormMutator{db: db, log: log}
}

var _ account.Mutator = (*GormMutator)(nil)

// tempPasswordLen is the length of generated temporary passwords.
const tempPasswordLen = 16

// newID returns a fresh 24-lowercase-hex account identifier.
func newID() (string, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// randomPassword generates an alphanumeric temporary password.
func randomPassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = charset[b[i]%byte(len(charset))]
	}
	return string(b), nil
}

// Create inserts a new account document. Duplicate detection runs on the
// unameview, so "john.doe" and "johndoe" collide by design.
func (m *GormMutator) Create(ctx context.Context, in account.NewAccount) (string, error) {
	view, err := account.Unameview(in.Username)
	if err != nil {
		return "", err
	}

	id, err := newID()
	if err != nil {
		return "", err
	}

	tags, tagsview := account.NormalizeTags(in.Tags)

	row := AccountRow{
		ID:               id,
		Username:         in.Username,
		Unameview:        view,
		Address:          in.Address,
		Name:             in.Name,
		Language:         in.Language,
		Tags:             tags,
		Tagsview:         tagsview,
		EncryptMessages:  in.EncryptMessages,
		EncryptForwarded: in.EncryptForwarded,
		PubKey:           in.PubKey,
		SpamLevel:        in.SpamLevel,
		RetentionMs:      in.Retention.Milliseconds(),
		Targets:          in.Targets,
		Quota:            in.Limits.Quota,
		Recipients:       in.Limits.Recipients,
		Forwards:         in.Limits.Forwards,
		ReceivedMax:      in.Limits.ReceivedMax,
		ImapMaxUpload:    in.Limits.ImapMaxUpload,
		ImapMaxDownload:  in.Limits.ImapMaxDownload,
		Pop3MaxDownload:  in.Limits.Pop3MaxDownload,
		Activated:        true,
		CreatedAt:        time.Now().Unix(),
	}
	if in.Password.Set {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		row.PasswordHash = string(hash)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&AccountRow{}).Where("unameview = ?", view).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return account.ErrUserExists
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return account.ErrUserExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.log.Infow("account created", "id", id, "username", in.Username)
	return id, nil
}

// Update applies a partial mutation. Target and tag lists, when present,
// replace the stored lists in full.
func (m *GormMutator) Update(ctx context.Context, id string, upd account.Update) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row AccountRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return account.ErrNotFound
			}
			return err
		}

		applyString := func(dst *string, src *string) {
			if src != nil {
				*dst = *src
			}
		}
		applyBool := func(dst *bool, src *bool) {
			if src != nil {
				*dst = *src
			}
		}
		applyInt64 := func(dst *int64, src *int64) {
			if src != nil {
				*dst = *src
			}
		}

		applyString(&row.Name, upd.Name)
		applyString(&row.Address, upd.Address)
		applyString(&row.Language, upd.Language)
		applyString(&row.PubKey, upd.PubKey)
		applyBool(&row.EncryptMessages, upd.EncryptMessages)
		applyBool(&row.EncryptForwarded, upd.EncryptForwarded)
		applyBool(&row.Activated, upd.Activated)
		applyBool(&row.Disabled, upd.Disabled)
		if upd.SpamLevel != nil {
			row.SpamLevel = *upd.SpamLevel
		}
		if upd.Retention != nil {
			row.RetentionMs = upd.Retention.Milliseconds()
		}
		if upd.HasTags {
			row.Tags, row.Tagsview = account.NormalizeTags(upd.Tags)
		}
		if upd.HasTargets {
			row.Targets = upd.Targets
		}
		applyInt64(&row.Quota, upd.Limits.Quota)
		applyInt64(&row.Recipients, upd.Limits.Recipients)
		applyInt64(&row.Forwards, upd.Limits.Forwards)
		applyInt64(&row.ReceivedMax, upd.Limits.ReceivedMax)
		applyInt64(&row.ImapMaxUpload, upd.Limits.ImapMaxUpload)
		applyInt64(&row.ImapMaxDownload, upd.Limits.ImapMaxDownload)
		applyInt64(&row.Pop3MaxDownload, upd.Limits.Pop3MaxDownload)

		if upd.Password != nil {
			if upd.Password.Set {
				hash, err := bcrypt.GenerateFromPassword([]byte(upd.Password.Password), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				row.PasswordHash = string(hash)
			} else {
				row.PasswordHash = ""
			}
			// Any password change retires an outstanding temporary one.
			row.TempPasswordHash = ""
			row.TempValidAfter = 0
		}

		return tx.Save(&row).Error
	})
}

// Delete removes the account document and its message records.
func (m *GormMutator) Delete(ctx context.Context, id string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&AccountRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return account.ErrNotFound
		}
		return tx.Where("account_id = ?", id).Delete(&MessageRow{}).Error
	})
}

// ResetPassword invalidates the permanent credential and issues a
// temporary password that becomes usable at validAfter.
func (m *GormMutator) ResetPassword(ctx context.Context, id string, validAfter time.Time) (string, error) {
	password, err := randomPassword(tempPasswordLen)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	res := m.db.WithContext(ctx).Model(&AccountRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"password_hash":      "",
			"temp_password_hash": string(hash),
			"temp_valid_after":   validAfter.Unix(),
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", account.ErrNotFound
	}

	m.log.Infow("temporary password issued", "id", id, "validAfter", validAfter)
	return password, nil
}

// isUniqueViolation sniffs driver-specific duplicate-key errors as the
// backstop behind the explicit pre-check.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
