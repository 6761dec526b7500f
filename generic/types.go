/*
Package generic provides the domain-agnostic core of the progress ledger.

PURPOSE:
  This package contains the types every other package speaks: user ids,
  document keys, schemaless document fields, the store contract, and the
  error taxonomy. It knows nothing about screens, achievements or XP.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID: Opaque stable id supplied by the external identity provider
  - DocKey: Slash-separated document path (users/{uid}/progress/{screen})
  - Fields: A document as field name -> JSON value

DOCUMENT LAYOUT:
  users/{uid}                                  XP account
  users/{uid}/progress/{screenKey}             screen progress
  users/{uid}/progress/{screenKey}/success     success marker (state flip)
  users/{uid}/achievements/{achievementId}     achievement unlock
  users/{uid}/events                           event log collection

  Every caller-supplied segment is path-escaped, so a screen key that
  contains "/" can never address another document.

DESIGN PRINCIPLES:
  1. Partitioned: every key starts with the owning user
  2. Schemaless: stores persist Fields, packages encode typed records
  3. Integer counters: Increment only works on JSON integers

SEE ALSO:
  - store.go: Store contract (the five primitives)
  - errors.go: Error taxonomy
*/
package generic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies the owner of every record. The ledger never creates or
// validates users; it only partitions data by this id.
type UserID string

// Valid reports whether the id is usable as a partition key.
func (u UserID) Valid() bool { return strings.TrimSpace(string(u)) != "" }

func (u UserID) String() string { return string(u) }

// DocKey is the path of a single document or collection.
type DocKey string

func (k DocKey) String() string { return string(k) }

// Child appends escaped segments to the key.
func (k DocKey) Child(segments ...string) DocKey {
	var b strings.Builder
	b.WriteString(string(k))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return DocKey(b.String())
}

// =============================================================================
// KEY BUILDERS
// =============================================================================

func UserKey(uid UserID) DocKey {
	return DocKey("users").Child(string(uid))
}

func ProgressKey(uid UserID, screenKey string) DocKey {
	return UserKey(uid).Child("progress", screenKey)
}

// SuccessMarkerKey is the document whose creation flips a screen to Succeeded.
func SuccessMarkerKey(uid UserID, screenKey string) DocKey {
	return ProgressKey(uid, screenKey).Child("success")
}

func AchievementKey(uid UserID, achievementID string) DocKey {
	return UserKey(uid).Child("achievements", achievementID)
}

func EventsCollection(uid UserID) DocKey {
	return UserKey(uid).Child("events")
}

// =============================================================================
// FIELDS - Schemaless document body
// =============================================================================

// Fields is a document body: field name -> JSON-encoded value.
type Fields map[string]json.RawMessage

// Encode converts a JSON-taggable struct (or map) into Fields.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return f, nil
}

// MustEncode is Encode for values that are known to marshal.
func MustEncode(v any) Fields {
	f, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode fills out from the document body.
func Decode(f Fields, out any) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge copies every field of set into f.
func (f Fields) Merge(set Fields) {
	for k, v := range set {
		f[k] = append(json.RawMessage(nil), v...)
	}
}

// Int reads an integer field. Missing and null fields read as 0.
func (f Fields) Int(field string) (int64, error) {
	raw, ok := f[field]
	if !ok {
		return 0, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not an integer: %w", field, err)
	}
	return n, nil
}

// Add increments an integer field in place.
func (f Fields) Add(field string, delta int64) error {
	n, err := f.Int(field)
	if err != nil {
		return err
	}
	f[field] = json.RawMessage(strconv.FormatInt(n+delta, 10))
	return nil
}

// Has reports whether a field is present and not null.
func (f Fields) Has(field string) bool {
	raw, ok := f[field]
	return ok && string(bytes.TrimSpace(raw)) != "null"
}
