package account

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TargetType tags a forwarding destination by how it is delivered.
type TargetType string

const (
	// TargetMail is a bare email address.
	TargetMail TargetType = "mail"
	// TargetRelay is an smtp(s):// URI of a next-hop server.
	TargetRelay TargetType = "relay"
	// TargetHTTP is an http(s):// URI receiving posted message content.
	TargetHTTP TargetType = "http"
)

// Target is one forwarding destination. Order within an account's target
// list is significant: it encodes delivery fan-out priority.
type Target struct {
	ID    string     `json:"id"`
	Type  TargetType `json:"type"`
	Value string     `json:"value"`
}

// ClassifyError reports a string that matches none of the three target
// shapes. The whole operation carrying it must be aborted; no partial
// target list is ever persisted.
type ClassifyError struct {
	Value string
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("unclassifiable forwarding target %q", e.Value)
}

// ClassifyTargets turns raw forwarding-target strings into typed records,
// one freshly generated id per entry, preserving input order.
//
// Classification is syntactic and the precedence order is load-bearing:
// the relay scheme is checked first, then the http scheme, and only then
// the @-shape. A value matching none yields *ClassifyError and no list.
func ClassifyTargets(values []string) ([]Target, error) {
	targets := make([]Target, 0, len(values))
	for _, v := range values {
		t, err := classifyTarget(v)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func classifyTarget(value string) (Target, error) {
	lower := strings.ToLower(value)
	var typ TargetType
	switch {
	case strings.HasPrefix(lower, "smtp://"), strings.HasPrefix(lower, "smtps://"):
		typ = TargetRelay
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		typ = TargetHTTP
	case strings.Contains(value, "@"):
		typ = TargetMail
	default:
		return Target{}, &ClassifyError{Value: value}
	}
	return Target{
		ID:    uuid.NewString(),
		Type:  typ,
		Value: value,
	}, nil
}

// TargetValues extracts the raw destination strings, in order.
func TargetValues(targets []Target) []string {
	vals := make([]string, len(targets))
	for i, t := range targets {
		vals[i] = t.Value
	}
	return vals
}
