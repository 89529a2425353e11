// Package account defines the account resource model of the Hivemail
// platform and the pure derivations computed from it: forwarding-target
// classification, canonical tag handling and the externally visible views.
//
// The package owns the collaborator contracts (Repository, Mutator,
// session registry) but no storage; persistence lives behind the
// interfaces so the derived-state logic stays testable in isolation.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/secure/precis"
)

// Account ids are 24 lowercase hex characters, assigned by the store.
var idRx = regexp.MustCompile(`^[0-9a-f]{24}$`)

// ValidID reports whether s is a well-formed account identifier.
func ValidID(s string) bool {
	return idRx.MatchString(s)
}

var usernameRx = regexp.MustCompile(`^[a-z0-9][a-z0-9.]+[a-z0-9]$`)

// ValidUsername reports whether s is an acceptable raw username
// (3–32 characters, lowercase alphanumerics with interior dots).
func ValidUsername(s string) bool {
	return len(s) >= 3 && len(s) <= 32 && usernameRx.MatchString(s)
}

// Unameview derives the case-insensitive lookup key for a username: dots
// are stripped and the remainder is case-folded. The view is the
// uniqueness key; the display username keeps the user's dot placement.
func Unameview(username string) (string, error) {
	stripped := strings.ReplaceAll(username, ".", "")
	view, err := precis.UsernameCaseMapped.CompareKey(stripped)
	if err != nil {
		return "", fmt.Errorf("username %q: %w", username, err)
	}
	return view, nil
}

// Limits are the static per-account limits stored on the profile
// document. A zero value means "use the platform default".
type Limits struct {
	Quota           int64 `json:"quota"`
	Recipients      int64 `json:"recipients"`
	Forwards        int64 `json:"forwards"`
	ReceivedMax     int64 `json:"receivedMax"`
	ImapMaxUpload   int64 `json:"imapMaxUpload"`
	ImapMaxDownload int64 `json:"imapMaxDownload"`
	Pop3MaxDownload int64 `json:"pop3MaxDownload"`
}

// Account is the persistent profile document as this layer sees it.
type Account struct {
	ID        string
	Username  string
	Unameview string

	Address  string
	Name     string
	Language string

	// Tags keeps display casing; Tagsview is its lowercase image in the
	// same order. Both are maintained exclusively by NormalizeTags.
	Tags     []string
	Tagsview []string

	EncryptMessages  bool
	EncryptForwarded bool
	// PubKey is the armored public key block, empty when no key is set.
	PubKey string

	SpamLevel int
	Retention time.Duration

	Targets []Target

	Limits Limits

	// HasPassword / HasTempPassword are presence flags; the hashes
	// themselves never leave the store.
	HasPassword     bool
	HasTempPassword bool
	TempValidAfter  time.Time

	Activated bool
	Disabled  bool

	StorageUsed int64

	Created time.Time
}

// HasPasswordSet reports whether any credential, permanent or temporary,
// is present.
func (a *Account) HasPasswordSet() bool {
	return a.HasPassword || a.HasTempPassword
}

// PasswordValue is the explicit form of the wire field "password", which
// is either a string or the literal false (meaning: no usable password).
type PasswordValue struct {
	Set      bool
	Password string
}

// UnmarshalJSON accepts a JSON string or the literal false.
func (p *PasswordValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "false" {
		*p = PasswordValue{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var out string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return errors.New("password must be a string or false")
		}
		*p = PasswordValue{Set: true, Password: out}
		return nil
	}
	return errors.New("password must be a string or false")
}

// Sentinel errors for the error taxonomy in §7 of the service contract.
// Handlers translate these to wire codes; nothing here is fatal to the
// process.
var (
	// ErrNotFound: the referenced account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrUserExists: another account already owns the same unameview.
	ErrUserExists = errors.New("username already exists")
)

// NewAccount is the validated input handed to the Mutator on create.
type NewAccount struct {
	Username string
	Password PasswordValue
	Address  string
	Name     string
	Language string

	Tags    []string
	Targets []Target

	EncryptMessages  bool
	EncryptForwarded bool
	PubKey           string

	SpamLevel int
	Retention time.Duration

	Limits Limits
}

// Update carries the mutable field subset of a PUT. Nil pointers mean
// "leave unchanged"; targets and tags, when present, replace the stored
// lists in full (no partial mutation).
type Update struct {
	Name     *string
	Address  *string
	Language *string

	Password *PasswordValue

	Tags    []string
	HasTags bool

	Targets    []Target
	HasTargets bool

	EncryptMessages  *bool
	EncryptForwarded *bool
	// PubKey: nil = unchanged, empty string = remove key.
	PubKey *string

	SpamLevel *int
	Retention *time.Duration

	Limits LimitsUpdate

	Activated *bool
	Disabled  *bool
}

// LimitsUpdate mirrors Limits with optional fields.
type LimitsUpdate struct {
	Quota           *int64
	Recipients      *int64
	Forwards        *int64
	ReceivedMax     *int64
	ImapMaxUpload   *int64
	ImapMaxDownload *int64
	Pop3MaxDownload *int64
}

// ListFilter selects accounts for the listing operation. Query matches
// the address or the unameview as a case-insensitive substring; tag
// filters are ANDed with the text filter.
type ListFilter struct {
	Query string
	// Tags: account must carry at least one (matched on tagsview).
	Tags []string
	// RequiredTags: account must carry all of them.
	RequiredTags []string
}

// Repository is the read-and-narrow-update surface over the persistent
// account documents. Writes that change the profile go through Mutator.
type Repository interface {
	Get(ctx context.Context, id string) (*Account, error)
	GetByUnameview(ctx context.Context, view string) (*Account, error)
	// SetStorageUsed writes a freshly recomputed storage counter onto the
	// document. Explicitly non-transactional with respect to concurrent
	// message writes.
	SetStorageUsed(ctx context.Context, id string, used int64) error
	// RecomputeStorage sums the size of every message owned by the
	// account at the time of the aggregation read.
	RecomputeStorage(ctx context.Context, id string) (int64, error)
}

// Mutator is the external collaborator that owns transactional account
// writes. Implementations return ErrNotFound / ErrUserExists where
// applicable.
type Mutator interface {
	Create(ctx context.Context, in NewAccount) (id string, err error)
	Update(ctx context.Context, id string, upd Update) error
	Delete(ctx context.Context, id string) error
	// ResetPassword invalidates the permanent credential and issues a
	// temporary password usable from validAfter.
	ResetPassword(ctx context.Context, id string, validAfter time.Time) (password string, err error)
}

// Sessions is the registry of live protocol sessions, used by the forced
// logout operation.
type Sessions interface {
	// Logout closes every live session of the account, attaching reason.
	// It returns the number of sessions closed.
	Logout(id, reason string) int
}

