// Package schema declares the request shapes of the account API as
// static field-constraint tables. Each endpoint evaluates its table once
// against the raw body and gets back a typed, immutable request struct
// plus every violation found (validation collects all problems instead
// of stopping at the first).
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Violation is one field-level problem found during validation.
type Violation struct {
	Field   string
	Message string
}

// Violations aggregates all problems of one request.
type Violations []Violation

func (v Violations) Error() string {
	parts := make([]string, len(v))
	for i, each := range v {
		parts[i] = each.Field + ": " + each.Message
	}
	return strings.Join(parts, "; ")
}

// Field is one entry of a constraint table. Parse decodes the raw JSON
// value into the endpoint's typed request struct and reports a
// field-scoped error on shape or range violations.
type Field struct {
	Name     string
	Required bool
	Parse    func(raw json.RawMessage) error
}

// Table is the statically declared constraint set of one endpoint body.
type Table []Field

// Apply decodes body against the table. Unknown keys are ignored, the
// platform adds fields faster than every client updates.
func (t Table) Apply(body []byte) Violations {
	var raw map[string]json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return Violations{{Field: "body", Message: "request body must be a JSON object"}}
		}
	}

	var out Violations
	for _, f := range t {
		val, ok := raw[f.Name]
		if !ok || string(val) == "null" {
			if f.Required {
				out = append(out, Violation{Field: f.Name, Message: "required"})
			}
			continue
		}
		if err := f.Parse(val); err != nil {
			out = append(out, Violation{Field: f.Name, Message: err.Error()})
		}
	}
	return out
}

// String decodes into dst.
func String(dst *string) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		return json.Unmarshal(raw, dst)
	}
}

// StringBound decodes into dst and checks the length range.
func StringBound(dst *string, min, max int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
		if len(*dst) < min || len(*dst) > max {
			return fmt.Errorf("length must be between %d and %d", min, max)
		}
		return nil
	}
}

// StringPtr decodes into *dst, allocating it. Used by update bodies
// where absence means "leave unchanged".
func StringPtr(dst **string) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*dst = &s
		return nil
	}
}

// Bool decodes into dst.
func Bool(dst *bool) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		return json.Unmarshal(raw, dst)
	}
}

// BoolPtr decodes into *dst, allocating it.
func BoolPtr(dst **bool) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		*dst = &b
		return nil
	}
}

// Int decodes into dst and checks the range.
func Int(dst *int, min, max int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
		if *dst < min || *dst > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

// IntPtr decodes into *dst, allocating it, and checks the range.
func IntPtr(dst **int, min, max int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		if n < min || n > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		*dst = &n
		return nil
	}
}

// Int64Min decodes into dst and enforces the lower bound.
func Int64Min(dst *int64, min int64) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
		if *dst < min {
			return fmt.Errorf("must be at least %d", min)
		}
		return nil
	}
}

// Int64PtrMin decodes into *dst, allocating it, and enforces the lower
// bound.
func Int64PtrMin(dst **int64, min int64) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		if n < min {
			return fmt.Errorf("must be at least %d", min)
		}
		*dst = &n
		return nil
	}
}

// Strings decodes a string array into dst. present, when non-nil, is set
// to record that the key appeared at all.
func Strings(dst *[]string, present *bool) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
		if present != nil {
			*present = true
		}
		return nil
	}
}
