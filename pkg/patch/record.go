package patch

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

var ErrPatchMissingID = errors.New("patch has no id")

// RecordPatch is a sparse update addressed to one record.
//
// Semantics per field:
//   - absent from Fields, or IsSet() == false: keep the stored value
//   - IsUnset() == true: store JSON null
//   - HasValue() == true: overwrite
type RecordPatch struct {
	ID     idwrap.IDWrap
	Fields map[string]Optional[any]
}

func NewRecordPatch(id idwrap.IDWrap) RecordPatch {
	return RecordPatch{ID: id, Fields: make(map[string]Optional[any])}
}

// FromJSON decodes an object into a patch. Members with a null value become
// Unset; members not present are NotSet.
func FromJSON(data []byte) (RecordPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return RecordPatch{}, err
	}
	idRaw, ok := raw[mrecord.FieldID]
	if !ok {
		return RecordPatch{}, ErrPatchMissingID
	}
	var id idwrap.IDWrap
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return RecordPatch{}, fmt.Errorf("decode id: %w", err)
	}
	p := NewRecordPatch(id)
	for k, v := range raw {
		if k == mrecord.FieldID {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			p.Fields[k] = Unset[any]()
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return RecordPatch{}, fmt.Errorf("decode field %q: %w", k, err)
		}
		p.Fields[k] = NewOptional(val)
	}
	return p, nil
}

func (p RecordPatch) With(name string, value any) RecordPatch {
	if p.Fields == nil {
		p.Fields = make(map[string]Optional[any])
	}
	p.Fields[name] = NewOptional(value)
	return p
}

func (p RecordPatch) Without(name string) RecordPatch {
	if p.Fields == nil {
		p.Fields = make(map[string]Optional[any])
	}
	p.Fields[name] = Unset[any]()
	return p
}

// HasChanges returns true if any field in the patch has been set
func (p RecordPatch) HasChanges() bool {
	for _, f := range p.Fields {
		if f.IsSet() {
			return true
		}
	}
	return false
}

// SetFields lists the names the patch will write, sorted.
func (p RecordPatch) SetFields() []string {
	names := make([]string, 0, len(p.Fields))
	for k, f := range p.Fields {
		if f.IsSet() {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Apply merges the patch onto a copy of r. The id is never patched.
func (p RecordPatch) Apply(r mrecord.Record) mrecord.Record {
	out := r.Clone()
	for k, f := range p.Fields {
		if k == mrecord.FieldID || !f.IsSet() {
			continue
		}
		if f.IsUnset() {
			out.Set(k, nil)
			continue
		}
		out.Set(k, *f.Value())
	}
	// re-clone so values taken from the patch are not shared with the caller
	return out.Clone()
}
