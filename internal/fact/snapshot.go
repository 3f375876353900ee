package fact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Snapshot holds the last-persisted state of every fact category for one
// subject. The zero value (nil Records) represents a never-evaluated
// subject; IsZero distinguishes a first run from "evaluated, nothing
// flagged".
//
// INVARIANT: a persisted snapshot always reflects the last successfully
// completed evaluation cycle. The engine writes it only after diffing and
// report building both finished, so a crash mid-cycle leaves the previous
// snapshot intact.
type Snapshot struct {
	SubjectID SubjectID
	Records   map[Category]Record
}

// NewSnapshot creates an empty (but non-zero) snapshot for a subject.
func NewSnapshot(id SubjectID) Snapshot {
	return Snapshot{SubjectID: id, Records: make(map[Category]Record)}
}

// IsZero reports whether the snapshot is the zero value for a never-seen
// subject.
func (s Snapshot) IsZero() bool {
	return s.Records == nil
}

// Record returns the stored record for a category, or a zero-value record
// (flagged=false, empty container) if the category was never evaluated.
func (s Snapshot) Record(c Category) Record {
	if r, ok := s.Records[c]; ok {
		return r
	}
	return Record{Version: RecordVersion, Value: EmptyValue(c.ValueKind())}
}

// SetRecord stores a record, allocating the map if needed.
func (s *Snapshot) SetRecord(c Category, r Record) {
	if s.Records == nil {
		s.Records = make(map[Category]Record)
	}
	s.Records[c] = r
}

// Clone returns a deep copy. Mutating the clone never affects the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{SubjectID: s.SubjectID}
	if s.Records == nil {
		return out
	}
	out.Records = make(map[Category]Record, len(s.Records))
	for c, r := range s.Records {
		out.Records[c] = Record{Version: r.Version, Flagged: r.Flagged, Value: cloneValue(r.Value)}
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case nil:
		return nil
	case FlagValue, RatioValue:
		return val
	case SetValue:
		return SetValue(append([]string(nil), val...))
	case KeyedValue:
		return KeyedValue(maps.Clone(map[string]string(val)))
	case TableValue:
		out := make(TableValue, len(val))
		for id, row := range val {
			out[id] = Row(maps.Clone(map[string]int64(row)))
		}
		return out
	default:
		return val
	}
}

// MarshalCanonical serializes the snapshot's records deterministically:
// map keys sorted (encoding/json sorts map keys), HTML escaping disabled,
// ratios rendered with shortest round-tripping representation. Equal
// snapshots marshal byte-identically, which the store relies on.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	records := make(map[string]any, len(s.Records))
	for c, r := range s.Records {
		enc, err := encodeRecord(r)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: category %s: %w", c, err)
		}
		records[string(c)] = enc
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any{"records": records}); err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return []byte(strings.TrimSpace(buf.String())), nil
}

func encodeRecord(r Record) (map[string]any, error) {
	if r.Value == nil {
		return nil, fmt.Errorf("record has no value")
	}
	out := map[string]any{
		"version": r.Version,
		"flagged": r.Flagged,
		"kind":    kindTag[r.Value.Kind()],
	}
	switch val := r.Value.(type) {
	case FlagValue:
		out["value"] = bool(val)
	case SetValue:
		// Normalize on the way out so unsorted or nil inputs still
		// serialize canonically.
		out["value"] = []string(NewSetValue(val...))
	case KeyedValue:
		m := map[string]string(val)
		if m == nil {
			m = map[string]string{}
		}
		out["value"] = m
	case TableValue:
		table := make(map[string]map[string]int64, len(val))
		for id, row := range val {
			table[id] = map[string]int64(row)
		}
		out["value"] = table
	case RatioValue:
		out["value"] = json.Number(formatRatio(val))
	default:
		return nil, fmt.Errorf("unsupported value type %T", r.Value)
	}
	return out, nil
}

// recordJSON is the serialized tagged-union form of a Record.
type recordJSON struct {
	Version int             `json:"version"`
	Flagged bool            `json:"flagged"`
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value"`
}

type snapshotJSON struct {
	Records map[string]recordJSON `json:"records"`
}

// UnmarshalSnapshot parses a canonical snapshot payload for a subject.
// Unknown categories are rejected: a payload written by a newer schema
// must not be silently truncated.
func UnmarshalSnapshot(id SubjectID, data []byte) (Snapshot, error) {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	snap := NewSnapshot(id)
	for name, rec := range raw.Records {
		c := Category(name)
		if !c.Valid() {
			return Snapshot{}, fmt.Errorf("unmarshal snapshot: unknown category %q", name)
		}
		value, err := decodeValue(rec.Kind, rec.Value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal snapshot: category %s: %w", c, err)
		}
		snap.Records[c] = Record{Version: rec.Version, Flagged: rec.Flagged, Value: value}
	}
	return snap, nil
}

func decodeValue(tag string, raw json.RawMessage) (Value, error) {
	kind, err := kindFromTag(tag)
	if err != nil {
		return nil, err
	}
	switch kind {
	case ValueKindFlag:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decode flag: %w", err)
		}
		return FlagValue(b), nil
	case ValueKindSet:
		var members []string
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil, fmt.Errorf("decode set: %w", err)
		}
		return NewSetValue(members...), nil
	case ValueKindKeyed:
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode keyed: %w", err)
		}
		if m == nil {
			m = map[string]string{}
		}
		return KeyedValue(m), nil
	case ValueKindTable:
		var t map[string]map[string]int64
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
		table := make(TableValue, len(t))
		for id, row := range t {
			table[id] = Row(row)
		}
		return table, nil
	case ValueKindRatio:
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return nil, fmt.Errorf("decode ratio: %w", err)
		}
		f, err := strconv.ParseFloat(num.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("decode ratio: %w", err)
		}
		return RatioValue(f), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", tag)
	}
}
