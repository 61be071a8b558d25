package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the wire representation of a tracked field.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindDecimal
	KindTime
	KindDate
	KindRef // foreign reference by uuid
)

var kindNames = map[Kind]string{
	KindString:  "string",
	KindInt:     "int",
	KindFloat:   "float",
	KindBool:    "bool",
	KindDecimal: "decimal",
	KindTime:    "time",
	KindDate:    "date",
	KindRef:     "ref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Field declares a single mutable field of a tracked entity type.
type Field struct {
	Name string
	Kind Kind
}

// ValidateFields checks a declared field set for duplicates and unsupported
// kinds. Adapters are validated once at registration, never per request.
func ValidateFields(fields []Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("diff: empty field set")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("diff: field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("diff: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if _, ok := kindNames[f.Kind]; !ok {
			return fmt.Errorf("diff: field %q has unsupported kind %d", f.Name, int(f.Kind))
		}
	}
	return nil
}

// Normalize converts a raw value into its canonical wire form for the given
// kind: string, float64, bool or nil. Time values become RFC 3339 strings,
// dates "2006-01-02", decimals and refs their string form. Canonical values
// survive a JSON round trip unchanged, which is what makes
// Decode(Encode(x)) == x hold.
func Normalize(v any, k Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("diff: value %v is not an integer", n)
			}
			return n, nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d.String(), nil
		case string:
			parsed, err := decimal.NewFromString(d)
			if err != nil {
				return nil, fmt.Errorf("diff: invalid decimal %q: %w", d, err)
			}
			return parsed.String(), nil
		case float64:
			return decimal.NewFromFloat(d).String(), nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, fmt.Errorf("diff: invalid timestamp %q: %w", t, err)
			}
			return parsed.UTC().Format(time.RFC3339), nil
		}
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t.Format("2006-01-02"), nil
		case string:
			parsed, err := time.Parse("2006-01-02", t)
			if err != nil {
				return nil, fmt.Errorf("diff: invalid date %q: %w", t, err)
			}
			return parsed.Format("2006-01-02"), nil
		}
	case KindRef:
		switch r := v.(type) {
		case uuid.UUID:
			return r.String(), nil
		case string:
			parsed, err := uuid.Parse(r)
			if err != nil {
				return nil, fmt.Errorf("diff: invalid reference %q: %w", r, err)
			}
			return parsed.String(), nil
		}
	}
	return nil, fmt.Errorf("diff: cannot represent %T as %s", v, k)
}

// NormalizeAll normalizes every entry of fields against the declared field
// set. Unknown field names are rejected.
func NormalizeAll(fields map[string]any, declared []Field) (map[string]any, error) {
	kinds := make(map[string]Kind, len(declared))
	for _, f := range declared {
		kinds[f.Name] = f.Kind
	}
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		k, ok := kinds[name]
		if !ok {
			return nil, fmt.Errorf("diff: unknown field %q", name)
		}
		nv, err := Normalize(v, k)
		if err != nil {
			return nil, err
		}
		out[name] = nv
	}
	return out, nil
}

// Compute builds the scalar diff between two entity states, restricted to
// fieldSet. Both inputs must already hold canonical values.
//
//   - prior == nil (ADD): changed holds the full proposed state, revert is nil.
//   - proposed == nil (DELETE): revert holds the full prior state, changed is nil.
//   - otherwise (MODIFY): both maps contain only fields whose value differs,
//     so "did this request touch field X" is a direct membership test.
func Compute(prior, proposed map[string]any, fieldSet []string) (changed, revert map[string]any) {
	if prior == nil {
		return pick(proposed, fieldSet), nil
	}
	if proposed == nil {
		return nil, pick(prior, fieldSet)
	}
	changed = make(map[string]any)
	revert = make(map[string]any)
	for _, f := range fieldSet {
		before, after := prior[f], proposed[f]
		if _, ok := proposed[f]; !ok {
			continue // field not part of this submission
		}
		if !reflect.DeepEqual(before, after) {
			changed[f] = after
			revert[f] = before
		}
	}
	return changed, revert
}

func pick(data map[string]any, fieldSet []string) map[string]any {
	out := make(map[string]any, len(fieldSet))
	for _, f := range fieldSet {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Encode serializes a scalar diff payload.
func Encode(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RelatedDiff is the three-way partition of a change to a related collection,
// keyed by the collection's primary key rendered as a string.
//
// Every key present in prior or proposed lands in exactly one of Added,
// Modified, Deleted or (implicitly) unchanged.
type RelatedDiff struct {
	// Added maps key to the full attributes of a new member. Members
	// submitted without a key get a synthetic "new:N" key; storage assigns
	// the real one at apply time.
	Added map[string]map[string]any `json:"added,omitempty"`
	// Modified maps key to the changed attributes only (new values).
	Modified map[string]map[string]any `json:"modified,omitempty"`
	// Deleted maps key to the member's prior attributes, kept as the revert
	// snapshot and for display after the row is gone.
	Deleted map[string]map[string]any `json:"deleted,omitempty"`
}

// ComputeRelated partitions proposed members against prior members. Each
// member map must carry keyField (proposed new members may omit it). Values
// must be canonical.
func ComputeRelated(prior, proposed []map[string]any, keyField string) (RelatedDiff, error) {
	d := RelatedDiff{
		Added:    make(map[string]map[string]any),
		Modified: make(map[string]map[string]any),
		Deleted:  make(map[string]map[string]any),
	}
	priorByKey := make(map[string]map[string]any, len(prior))
	for _, m := range prior {
		k, err := memberKey(m, keyField)
		if err != nil {
			return RelatedDiff{}, err
		}
		if _, dup := priorByKey[k]; dup {
			return RelatedDiff{}, fmt.Errorf("diff: duplicate member key %q", k)
		}
		priorByKey[k] = m
	}
	seen := make(map[string]bool, len(proposed))
	newSeq := 0
	for _, m := range proposed {
		k, _ := memberKey(m, keyField)
		if k == "" {
			newSeq++
			d.Added[fmt.Sprintf("new:%d", newSeq)] = m
			continue
		}
		if seen[k] {
			return RelatedDiff{}, fmt.Errorf("diff: duplicate member key %q", k)
		}
		seen[k] = true
		before, exists := priorByKey[k]
		if !exists {
			d.Added[k] = m
			continue
		}
		changed := make(map[string]any)
		for attr, after := range m {
			if attr == keyField {
				continue
			}
			if !reflect.DeepEqual(before[attr], after) {
				changed[attr] = after
			}
		}
		if len(changed) > 0 {
			d.Modified[k] = changed
		}
	}
	for k, m := range priorByKey {
		if !seen[k] {
			d.Deleted[k] = m
		}
	}
	return d, nil
}

func memberKey(m map[string]any, keyField string) (string, error) {
	v, ok := m[keyField]
	if !ok || v == nil || v == "" {
		return "", fmt.Errorf("diff: member missing key field %q", keyField)
	}
	return fmt.Sprint(v), nil
}

// Empty reports whether the diff describes no change at all.
func (d RelatedDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// AddedStr, ModifiedStr and DeletedStr render compact one-line summaries for
// display, preferring a "name" or "title" attribute over the raw key.
func (d RelatedDiff) AddedStr() string    { return renderMembers(d.Added) }
func (d RelatedDiff) ModifiedStr() string { return renderMembers(d.Modified) }
func (d RelatedDiff) DeletedStr() string  { return renderMembers(d.Deleted) }

func renderMembers(members map[string]map[string]any) string {
	if len(members) == 0 {
		return ""
	}
	parts := make([]string, 0, len(members))
	for k, attrs := range members {
		label := k
		for _, attr := range []string{"name", "title"} {
			if s, ok := attrs[attr].(string); ok && s != "" {
				label = s
				break
			}
		}
		parts = append(parts, label)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// EncodeRelated serializes a related diff payload.
func EncodeRelated(d RelatedDiff) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeRelated is the inverse of EncodeRelated.
func DecodeRelated(data []byte) (RelatedDiff, error) {
	var d RelatedDiff
	if err := json.Unmarshal(data, &d); err != nil {
		return RelatedDiff{}, err
	}
	return d, nil
}

// EncodeMembers and DecodeMembers (de)serialize a full member list, used as
// the revert snapshot for related changes.
func EncodeMembers(members []map[string]any) ([]byte, error) {
	return json.Marshal(members)
}

func DecodeMembers(data []byte) ([]map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var members []map[string]any
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}
