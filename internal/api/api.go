// Package api implements the HTTP surface of the account API. All
// responses, errors included, are served with HTTP 200: error signaling
// is payload-level ({error, code}) so network observers cannot tell
// outcomes apart by status code alone.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hivemail/hivemail/internal/account"
	"github.com/hivemail/hivemail/internal/config"
	"github.com/hivemail/hivemail/internal/metrics"
	"github.com/hivemail/hivemail/internal/pgpkey"
	"github.com/hivemail/hivemail/internal/storage"
	"github.com/hivemail/hivemail/internal/usage"
)

// Wire error codes of the account API.
const (
	CodeInputValidation  = "InputValidationError"
	CodeInternalDatabase = "InternalDatabaseError"
	CodeUserNotFound     = "UserNotFound"
	CodeUserExists       = "UserExistsError"
	CodeInvalidToken     = "InvalidToken"
)

// maxBodySize bounds request bodies, applied before any parsing.
const maxBodySize = 1 << 20

// Store is the persistent surface the handlers need: the repository
// reads plus the paged listing.
type Store interface {
	account.Repository
	List(ctx context.Context, f account.ListFilter, pr storage.PageRequest) (*storage.PageResult, error)
}

// Deps are the collaborators of the account handlers.
type Deps struct {
	Store    Store
	Mutator  account.Mutator
	Sessions account.Sessions
	Usage    usage.Reader
	Keys     pgpkey.Verifier
	Defaults config.Defaults
	Log      *zap.SugaredLogger
}

// Handler is the assembled HTTP handler: bearer auth around the account
// routes, the metrics endpoint left open for the scraper.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
	auth *authenticator
}

// NewHandler builds the route table.
func NewHandler(deps Deps, token string) *Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	users := http.NewServeMux()
	users.HandleFunc("GET /users", h.handleList)
	users.HandleFunc("POST /users", h.handleCreate)
	users.HandleFunc("GET /users/resolve/{username}", h.handleResolve)
	users.HandleFunc("GET /users/{id}", h.handleDetail)
	users.HandleFunc("PUT /users/{id}", h.handleUpdate)
	users.HandleFunc("PUT /users/{id}/logout", h.handleLogout)
	users.HandleFunc("POST /users/{id}/quota/reset", h.handleQuotaReset)
	users.HandleFunc("POST /users/{id}/password/reset", h.handlePasswordReset)
	users.HandleFunc("DELETE /users/{id}", h.handleDelete)

	h.auth = newAuthenticator(token, deps.Log)
	h.mux.Handle("/users", h.auth.wrap(users))
	h.mux.Handle("/users/", h.auth.wrap(users))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Close stops the handler's background auth bookkeeping. Idempotent.
func (h *Handler) Close() {
	h.auth.close()
}

// writeJSON serves any payload with HTTP 200.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the payload-level error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, op, code, msg string) {
	metrics.Requests.WithLabelValues(op, code).Inc()
	writeJSON(w, errorBody{Error: msg, Code: code})
}

func writeOK(w http.ResponseWriter, op string, v interface{}) {
	metrics.Requests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, v)
}

// cursorValue renders a cursor as its token, or false when absent.
func cursorValue(tok string) interface{} {
	if tok == "" {
		return false
	}
	return tok
}
