package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hivemail/hivemail/internal/account"
	"github.com/hivemail/hivemail/internal/metrics"
	"github.com/hivemail/hivemail/internal/schema"
	"github.com/hivemail/hivemail/internal/storage"
)

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

// pathID extracts and validates the 24-hex account id path segment.
func pathID(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	id := r.PathValue("id")
	if !account.ValidID(id) {
		writeError(w, op, CodeInputValidation, "invalid account id")
		return "", false
	}
	return id, true
}

// storeError maps repository errors onto wire codes.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, account.ErrNotFound) {
		writeError(w, op, CodeUserNotFound, "This user does not exist")
		return
	}
	h.deps.Log.Errorw("database operation failed", "op", op, "err", err)
	writeError(w, op, CodeInternalDatabase, "Database operation failed")
}

// handleList serves GET /users: the filtered, cursor-paged listing.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	const op = "list"

	req, violations := schema.ParseList(r.URL.Query())
	if violations != nil {
		writeError(w, op, CodeInputValidation, violations.Error())
		return
	}

	// Both tag filters share one dedup pass: a tag in both raw lists is
	// consumed by requiredTags first and dropped from the any-of set.
	tags, required := account.NormalizeFilterTags(req.Tags, req.RequiredTags)
	filter := account.ListFilter{
		Query:        req.Query,
		Tags:         tags,
		RequiredTags: required,
	}

	page, err := h.deps.Store.List(r.Context(), filter, storage.PageRequest{
		Limit:    req.Limit,
		Page:     req.Page,
		Next:     req.Next,
		Previous: req.Previous,
	})
	if err != nil {
		if errors.Is(err, storage.ErrBadCursor) {
			writeError(w, op, CodeInputValidation, "invalid paging cursor")
			return
		}
		h.storeError(w, op, err)
		return
	}

	results := make([]account.ListItem, len(page.Accounts))
	for i, a := range page.Accounts {
		results[i] = account.BuildListItem(a, h.deps.Defaults.MaxStorage)
	}

	writeOK(w, op, map[string]interface{}{
		"success":        true,
		"total":          page.Total,
		"page":           page.Page,
		"previousCursor": cursorValue(page.PreviousCursor),
		"nextCursor":     cursorValue(page.NextCursor),
		"results":        results,
	})
}

// handleCreate serves POST /users.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "create"

	body, err := readBody(r)
	if err != nil {
		writeError(w, op, CodeInputValidation, "unreadable request body")
		return
	}
	req, violations := schema.ParseCreate(body)
	if violations != nil {
		writeError(w, op, CodeInputValidation, violations.Error())
		return
	}

	targets, err := account.ClassifyTargets(req.Targets)
	if err != nil {
		writeError(w, op, CodeInputValidation, err.Error())
		return
	}

	// Strict on write: a key that parses but cannot encrypt blocks the
	// request instead of being stored broken.
	if _, err := h.deps.Keys.Verify(r.Context(), req.PubKey); err != nil {
		writeError(w, op, CodeInputValidation, "PGP key could not be verified: "+err.Error())
		return
	}

	id, err := h.deps.Mutator.Create(r.Context(), req.NewAccount(targets))
	if err != nil {
		if errors.Is(err, account.ErrUserExists) {
			writeError(w, op, CodeUserExists, "This username already exists")
			return
		}
		h.deps.Log.Errorw("account create failed", "username", req.Username, "err", err)
		writeError(w, op, CodeInternalDatabase, "Database operation failed")
		return
	}

	writeOK(w, op, map[string]interface{}{"success": true, "id": id})
}

// handleResolve serves GET /users/resolve/{username}: raw username to id.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	const op = "resolve"

	username := r.PathValue("username")
	if !account.ValidUsername(username) {
		writeError(w, op, CodeInputValidation, "invalid username")
		return
	}
	view, err := account.Unameview(username)
	if err != nil {
		writeError(w, op, CodeInputValidation, "invalid username")
		return
	}

	a, err := h.deps.Store.GetByUnameview(r.Context(), view)
	if err != nil {
		h.storeError(w, op, err)
		return
	}

	writeOK(w, op, map[string]interface{}{"success": true, "id": a.ID})
}

// handleDetail serves GET /users/{id}: full profile plus merged limits.
func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	const op = "detail"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}

	a, err := h.deps.Store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, op, err)
		return
	}

	// Lenient on read: a stored key that no longer verifies degrades to
	// keyInfo false instead of failing the GET.
	keyInfo, err := h.deps.Keys.Verify(r.Context(), a.PubKey)
	if err != nil {
		h.deps.Log.Warnw("stored key no longer verifies", "account", a.ID, "err", err)
		metrics.StoredKeyUnreadable.Inc()
		keyInfo = nil
	}

	limits := h.deps.Usage.Limits(r.Context(), a)
	writeOK(w, op, account.BuildDetail(a, keyInfo, limits))
}

// handleUpdate serves PUT /users/{id}.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "update"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, op, CodeInputValidation, "unreadable request body")
		return
	}
	req, violations := schema.ParseUpdate(body)
	if violations != nil {
		writeError(w, op, CodeInputValidation, violations.Error())
		return
	}
	if req.Empty() {
		writeError(w, op, CodeInputValidation, "no fields to update")
		return
	}

	var targets []account.Target
	if req.HasTargets {
		targets, err = account.ClassifyTargets(req.Targets)
		if err != nil {
			writeError(w, op, CodeInputValidation, err.Error())
			return
		}
	}

	if req.PubKey != nil && *req.PubKey != "" {
		if _, err := h.deps.Keys.Verify(r.Context(), *req.PubKey); err != nil {
			writeError(w, op, CodeInputValidation, "PGP key could not be verified: "+err.Error())
			return
		}
	}

	if err := h.deps.Mutator.Update(r.Context(), id, req.Update(targets)); err != nil {
		// The Mutator contract allows ErrUserExists on any write, not
		// only create; implementations that rename or re-key must still
		// map onto the duplicate code.
		if errors.Is(err, account.ErrUserExists) {
			writeError(w, op, CodeUserExists, "This username already exists")
			return
		}
		h.storeError(w, op, err)
		return
	}

	writeOK(w, op, map[string]interface{}{"success": true})
}

// handleLogout serves PUT /users/{id}/logout: force-close every live
// session of the account.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, op, CodeInputValidation, "unreadable request body")
		return
	}
	req, violations := schema.ParseLogout(body)
	if violations != nil {
		writeError(w, op, CodeInputValidation, violations.Error())
		return
	}

	if _, err := h.deps.Store.Get(r.Context(), id); err != nil {
		h.storeError(w, op, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "Logout requested"
	}
	closed := h.deps.Sessions.Logout(id, reason)

	writeOK(w, op, map[string]interface{}{"success": true, "sessions": closed})
}

// handleQuotaReset serves POST /users/{id}/quota/reset: recompute the
// storage counter from the message records and write it back. The sum
// reflects the aggregation read; concurrent deliveries make it stale
// immediately, which is accepted.
func (h *Handler) handleQuotaReset(w http.ResponseWriter, r *http.Request) {
	const op = "quota-reset"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}

	if _, err := h.deps.Store.Get(r.Context(), id); err != nil {
		h.storeError(w, op, err)
		return
	}

	used, err := h.deps.Store.RecomputeStorage(r.Context(), id)
	if err != nil {
		h.storeError(w, op, err)
		return
	}
	if err := h.deps.Store.SetStorageUsed(r.Context(), id, used); err != nil {
		h.storeError(w, op, err)
		return
	}

	writeOK(w, op, map[string]interface{}{"success": true, "storageUsed": used})
}

// handlePasswordReset serves POST /users/{id}/password/reset: invalidate
// the permanent credential and hand out a temporary password.
func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	const op = "password-reset"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, op, CodeInputValidation, "unreadable request body")
		return
	}
	req, violations := schema.ParsePasswordReset(body, time.Now())
	if violations != nil {
		writeError(w, op, CodeInputValidation, violations.Error())
		return
	}

	password, err := h.deps.Mutator.ResetPassword(r.Context(), id, req.ValidAfter)
	if err != nil {
		h.storeError(w, op, err)
		return
	}

	writeOK(w, op, map[string]interface{}{
		"success":    true,
		"password":   password,
		"validAfter": req.ValidAfter.UTC().Format(time.RFC3339),
	})
}

// handleDelete serves DELETE /users/{id}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "delete"

	id, ok := pathID(w, r, op)
	if !ok {
		return
	}

	if err := h.deps.Mutator.Delete(r.Context(), id); err != nil {
		h.storeError(w, op, err)
		return
	}

	writeOK(w, op, map[string]interface{}{"success": true})
}
