package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hivemail/hivemail/internal/account"
)

// Listing limits. The hard maximum protects the store from unbounded
// page scans; the default matches what the dashboard requests.
const (
	DefaultPageSize = 20
	MaxPageSize     = 250
)

// PageRequest is the pagination part of a listing call. Next and
// Previous are opaque cursors; Next takes precedence when both are
// supplied, and Previous is only honored together with a page hint > 1.
// The page number itself never grants access to a page — only cursors
// move the window.
type PageRequest struct {
	Limit    int
	Page     int
	Next     string
	Previous string
}

// PageResult is one page of a listing in ascending-id order.
type PageResult struct {
	Total int64
	// Page echoes the caller's hint when a previous page provably
	// exists, and is forced back to 1 otherwise (a stale or forged hint
	// with no matching cursor must not be echoed).
	Page int
	// PreviousCursor and NextCursor are opaque; empty means "none".
	PreviousCursor string
	NextCursor     string
	Accounts       []*account.Account
}

// ErrBadCursor reports a cursor token that does not decode to an id.
var ErrBadCursor = errors.New("invalid paging cursor")

// cursor tokens are the base64url form of the boundary account id.
// Clients must treat them as opaque.
func encodeCursor(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(tok string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return "", ErrBadCursor
	}
	id := string(raw)
	if !account.ValidID(id) {
		return "", ErrBadCursor
	}
	return id, nil
}

// List runs the sorted-find-with-count query behind the listing
// operation and wraps it into a bidirectional cursor page.
func (r *Repo) List(ctx context.Context, f account.ListFilter, pr PageRequest) (*PageResult, error) {
	limit := pr.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var total int64
	if err := r.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	// Fetch one row beyond the page to learn whether more exist in the
	// scan direction without a second query.
	var (
		rows    []AccountRow
		hasPrev bool
		forward = true
	)
	q := r.filtered(ctx, f)
	switch {
	case pr.Next != "":
		after, err := decodeCursor(pr.Next)
		if err != nil {
			return nil, err
		}
		q = q.Where("id > ?", after).Order("id ASC").Limit(limit + 1)
		hasPrev = true
	case pr.Previous != "" && pr.Page > 1:
		before, err := decodeCursor(pr.Previous)
		if err != nil {
			return nil, err
		}
		q = q.Where("id < ?", before).Order("id DESC").Limit(limit + 1)
		forward = false
	default:
		q = q.Order("id ASC").Limit(limit + 1)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	if !forward {
		// The backward scan walked away from the cursor; restore
		// ascending order and note whether pages remain behind us.
		reverse(rows)
		hasPrev = more
		more = true // we came from a later page, so a next page exists
	}

	res := &PageResult{
		Total:    total,
		Page:     1,
		Accounts: make([]*account.Account, len(rows)),
	}
	for i := range rows {
		res.Accounts[i] = rows[i].toAccount()
	}

	if len(rows) > 0 {
		if hasPrev {
			res.PreviousCursor = encodeCursor(rows[0].ID)
		}
		if more {
			res.NextCursor = encodeCursor(rows[len(rows)-1].ID)
		}
	}
	if res.PreviousCursor != "" && pr.Page > 1 {
		res.Page = pr.Page
	}
	return res, nil
}

func reverse(rows []AccountRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
