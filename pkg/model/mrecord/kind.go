package mrecord

import (
	"fmt"
	"strings"

	"github.com/the-dev-tools/restsync/pkg/idwrap"
)

// Kind selects the id assignment policy for records a session creates.
type Kind int8

const (
	KindGeneric Kind = 0
	KindTodo    Kind = 1
	KindSpeaker Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTodo:
		return "todo"
	case KindSpeaker:
		return "speaker"
	default:
		return "generic"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic":
		return KindGeneric, nil
	case "todo":
		return KindTodo, nil
	case "speaker":
		return KindSpeaker, nil
	}
	return KindGeneric, fmt.Errorf("unknown record kind %q", s)
}

// Assign returns a copy of payload carrying the id, and for todos the
// sequence, the record will have once created in c.
func (k Kind) Assign(c Collection, payload map[string]any) Record {
	next := int64(1)
	if max, ok := c.MaxID(); ok {
		next = max + 1
	}
	rec := New(idwrap.NewNum(next), payload)

	if k == KindTodo {
		seq := 1.0
		if max, ok := c.MaxSequence(); ok {
			seq = max + 1
		}
		rec.Set(FieldSequence, seq)
	}
	return rec
}
