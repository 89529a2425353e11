// Package pgpkey verifies armored public keys supplied by accounts that
// opt into encrypted mail storage.
//
// Verification is a structural parse plus a round-trip probe: the key
// must not only parse, it must actually encrypt. Keys that parse but
// cannot encrypt (missing or expired encryption subkey) are rejected.
// The probe is CPU-bound and runs under a deadline so an adversarial key
// block cannot stall the request path.
package pgpkey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	_ "golang.org/x/crypto/ripemd160"

	"github.com/hivemail/hivemail/internal/account"
)

// Plaintext used for the round-trip probe. Content is irrelevant; only
// the ciphertext's well-formedness is checked.
const probePlaintext = "Hello world"

// messageType is the armor block type of an OpenPGP encrypted message.
const messageType = "PGP MESSAGE"

var (
	// ErrParse: the armored block is not a readable public key.
	ErrParse = errors.New("invalid public key")
	// ErrProbe: the key parsed but could not encrypt a message.
	ErrProbe = errors.New("public key cannot encrypt")
	// ErrTimeout: the probe exceeded its deadline.
	ErrTimeout = errors.New("public key verification timed out")
)

// Verifier checks armored public-key blocks.
type Verifier struct {
	// Timeout bounds a single verification. Zero means 5s.
	Timeout time.Duration
}

// Verify parses the armored block, extracts identity metadata and runs
// the encryption probe. An empty block means "no key": (nil, nil).
func (v Verifier) Verify(ctx context.Context, armored string) (*account.KeyInfo, error) {
	if strings.TrimSpace(armored) == "" {
		return nil, nil
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		info *account.KeyInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := verify(armored)
		done <- result{info, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	case r := <-done:
		return r.info, r.err
	}
}

func verify(armored string) (*account.KeyInfo, error) {
	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(ring) == 0 {
		return nil, ErrParse
	}
	entity := ring[0]

	info := &account.KeyInfo{
		Fingerprint: fmt.Sprintf("%x", entity.PrimaryKey.Fingerprint),
	}
	if id := firstIdentity(entity); id != nil {
		info.Name = id.UserId.Name
		info.Address = id.UserId.Email
		if info.Name == "" {
			// Decoding failures degrade to the raw identity string
			// instead of failing the whole operation.
			info.Name = id.Name
		}
	}

	if err := probe(entity); err != nil {
		return nil, err
	}
	return info, nil
}

// firstIdentity picks the primary identity when one is flagged,
// otherwise the lexicographically first for determinism (identity maps
// have no stable order).
func firstIdentity(e *openpgp.Entity) *openpgp.Identity {
	if len(e.Identities) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.Identities))
	for name, id := range e.Identities {
		if id.SelfSignature != nil && id.SelfSignature.IsPrimaryId != nil && *id.SelfSignature.IsPrimaryId {
			return id
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return e.Identities[names[0]]
}

// probe encrypts the fixed plaintext to the key and confirms the output
// is a well-formed armored encrypted-message block.
func probe(e *openpgp.Entity) error {
	var buf bytes.Buffer
	armorW, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbe, err)
	}
	plainW, err := openpgp.Encrypt(armorW, []*openpgp.Entity{e}, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbe, err)
	}
	if _, err := io.WriteString(plainW, probePlaintext); err != nil {
		return fmt.Errorf("%w: %v", ErrProbe, err)
	}
	if err := plainW.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrProbe, err)
	}
	if err := armorW.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrProbe, err)
	}

	block, err := armor.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil || block.Type != messageType {
		return ErrProbe
	}
	if _, err := io.ReadAll(block.Body); err != nil {
		return ErrProbe
	}
	return nil
}
