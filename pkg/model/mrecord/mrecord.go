//nolint:revive // exported
package mrecord

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
)

const (
	FieldID       = "id"
	FieldSequence = "sequence"
	FieldTodoText = "todoText"
)

var (
	ErrMissingID   = errors.New("record has no id")
	ErrDuplicateID = errors.New("duplicate record id")
)

// Record is one addressable item of a remote resource. Everything except the
// id is opaque payload.
type Record struct {
	ID     idwrap.IDWrap
	Fields map[string]any
}

func New(id idwrap.IDWrap, fields map[string]any) Record {
	r := Record{ID: id, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == FieldID {
			continue
		}
		r.Fields[k] = cloneValue(v)
	}
	return r
}

func (r Record) Get(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

func (r *Record) Set(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Sequence returns the numeric sequence field, if present.
func (r Record) Sequence() (float64, bool) {
	v, ok := r.Fields[FieldSequence]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Clone deep-copies the record; the copy shares no maps or slices with r.
func (r Record) Clone() Record {
	return New(r.ID, r.Fields)
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldID] = r.ID
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw[FieldID]
	if !ok {
		return ErrMissingID
	}
	var id idwrap.IDWrap
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	fields := make(map[string]any, len(raw)-1)
	for k, v := range raw {
		if k == FieldID {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("decode field %q: %w", k, err)
		}
		fields[k] = val
	}
	*r = Record{ID: id, Fields: fields}
	return nil
}

// ToFloat converts the numeric shapes a decoded JSON value can take.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	}
	return v
}
