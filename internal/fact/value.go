package fact

import (
	"fmt"
	"slices"
	"strconv"
)

// Value is a sealed interface over the per-category value shapes.
// Only FlagValue, SetValue, KeyedValue, TableValue, and RatioValue
// implement it.
type Value interface {
	factValue() // Sealed - only these types implement it

	// Kind returns the shape tag used in the serialized record.
	Kind() ValueKind
}

// FlagValue is a plain boolean fact.
type FlagValue bool

func (FlagValue) factValue()      {}
func (FlagValue) Kind() ValueKind { return ValueKindFlag }

// SetValue is an unordered set of strings (e.g. hostile system names).
// Stored sorted and deduplicated; use NewSetValue to construct.
type SetValue []string

func (SetValue) factValue()      {}
func (SetValue) Kind() ValueKind { return ValueKindSet }

// NewSetValue returns a sorted, deduplicated, non-nil SetValue.
func NewSetValue(members ...string) SetValue {
	s := slices.Clone(members)
	slices.Sort(s)
	s = slices.Compact(s)
	if s == nil {
		s = []string{}
	}
	return s
}

// Contains reports whether the set holds member.
// The set must be sorted (NewSetValue guarantees this).
func (v SetValue) Contains(member string) bool {
	_, ok := slices.BinarySearch(v, member)
	return ok
}

// KeyedValue maps an external id to a human-readable explanation
// (e.g. contact id -> why it is suspicious).
type KeyedValue map[string]string

func (KeyedValue) factValue()      {}
func (KeyedValue) Kind() ValueKind { return ValueKindKeyed }

// Row holds one sub-entity's integer fields inside a TableValue.
type Row map[string]int64

// TableValue maps a sub-entity id (e.g. a character id) to its fields.
// Some fields are ignored at diff time; that policy lives in the diff
// package, not here.
type TableValue map[string]Row

func (TableValue) factValue()      {}
func (TableValue) Kind() ValueKind { return ValueKindTable }

// RatioValue is a numeric ratio fact (e.g. skill points per day of age).
type RatioValue float64

func (RatioValue) factValue()      {}
func (RatioValue) Kind() ValueKind { return ValueKindRatio }

// RecordVersion is the current serialized record schema version.
const RecordVersion = 1

// Record is one category's slot in a snapshot: the flagged summary plus the
// last-observed value. The zero Record (nil Value, Flagged false) is the
// state of a never-evaluated category.
type Record struct {
	Version int
	Flagged bool
	Value   Value
}

// EmptyValue returns the zero value for a value kind: an empty container
// for collection shapes, false/zero for scalars.
func EmptyValue(kind ValueKind) Value {
	switch kind {
	case ValueKindFlag:
		return FlagValue(false)
	case ValueKindSet:
		return SetValue{}
	case ValueKindKeyed:
		return KeyedValue{}
	case ValueKindTable:
		return TableValue{}
	case ValueKindRatio:
		return RatioValue(0)
	default:
		return nil
	}
}

// NewRecord builds a current-version record.
func NewRecord(flagged bool, value Value) Record {
	return Record{Version: RecordVersion, Flagged: flagged, Value: value}
}

// kindTag maps value kinds to their serialized discriminator.
var kindTag = map[ValueKind]string{
	ValueKindFlag:  "flag",
	ValueKindSet:   "set",
	ValueKindKeyed: "keyed",
	ValueKindTable: "table",
	ValueKindRatio: "ratio",
}

func kindFromTag(tag string) (ValueKind, error) {
	for k, t := range kindTag {
		if t == tag {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown value kind %q", tag)
}

// formatRatio renders a ratio deterministically: shortest representation
// that round-trips through strconv.ParseFloat.
func formatRatio(r RatioValue) string {
	return strconv.FormatFloat(float64(r), 'g', -1, 64)
}
