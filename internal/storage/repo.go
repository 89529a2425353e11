package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hivemail/hivemail/internal/account"
)

// Repo is the read-and-narrow-update surface over account documents.
// Profile writes go through Mutator; Repo only issues reads plus the
// storage-counter write-back of the quota recompute.
type Repo struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewRepo wraps an open database.
func NewRepo(db *gorm.DB, log *zap.SugaredLogger) *Repo {
	return &Repo{db: db, log: log}
}

var _ account.Repository = (*Repo)(nil)

// Get loads one account by its 24-hex id.
func (r *Repo) Get(ctx context.Context, id string) (*account.Account, error) {
	var row AccountRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	return row.toAccount(), nil
}

// GetByUnameview loads one account by its normalized username view.
func (r *Repo) GetByUnameview(ctx context.Context, view string) (*account.Account, error) {
	var row AccountRow
	err := r.db.WithContext(ctx).Where("unameview = ?", view).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	return row.toAccount(), nil
}

// SetStorageUsed writes a freshly recomputed storage counter onto the
// document. Narrow update: nothing else on the row is touched.
func (r *Repo) SetStorageUsed(ctx context.Context, id string, used int64) error {
	res := r.db.WithContext(ctx).Model(&AccountRow{}).Where("id = ?", id).
		Update("storage_used", used)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return account.ErrNotFound
	}
	return nil
}

// RecomputeStorage sums the size of every message owned by the account.
// The sum reflects the moment of the aggregation read; messages arriving
// concurrently make the result stale immediately, which is accepted.
func (r *Repo) RecomputeStorage(ctx context.Context, id string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&MessageRow{}).
		Where("account_id = ?", id).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AddMessage records a message owned by the account. Called by the
// delivery side of the platform; exposed here so the quota recompute has
// something to aggregate over and tests can seed state.
func (r *Repo) AddMessage(ctx context.Context, accountID string, size int64) error {
	return r.db.WithContext(ctx).Create(&MessageRow{AccountID: accountID, Size: size}).Error
}

// filtered builds the WHERE clause shared by the count and page queries
// of a listing: free-text query against address and unameview, tag
// filters ANDed on top.
func (r *Repo) filtered(ctx context.Context, f account.ListFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&AccountRow{})

	if f.Query != "" {
		needle := "%" + escapeLike(strings.ToLower(f.Query)) + "%"
		q = q.Where("LOWER(address) LIKE ? ESCAPE '\\' OR unameview LIKE ? ESCAPE '\\'", needle, needle)
	}

	// Tag filters match on the JSON-encoded tagsview column. Entries are
	// lowercase JSON strings, so the quoted token is an exact element
	// match, not a substring of a longer tag.
	for _, tag := range f.RequiredTags {
		q = q.Where("tagsview LIKE ? ESCAPE '\\'", "%"+jsonToken(tag)+"%")
	}
	if len(f.Tags) > 0 {
		any := r.db.Session(&gorm.Session{NewDB: true}).Model(&AccountRow{})
		for i, tag := range f.Tags {
			cond := "tagsview LIKE ? ESCAPE '\\'"
			if i == 0 {
				any = any.Where(cond, "%"+jsonToken(tag)+"%")
			} else {
				any = any.Or(cond, "%"+jsonToken(tag)+"%")
			}
		}
		q = q.Where(any)
	}

	return q
}

// jsonToken renders a lowercase tag as its quoted JSON form, escaped for
// LIKE matching.
func jsonToken(tag string) string {
	b, _ := json.Marshal(strings.ToLower(tag))
	return escapeLike(string(b))
}

// escapeLike escapes the LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
