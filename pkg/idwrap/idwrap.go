package idwrap

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

var ErrInvalidID = errors.New("id must be a JSON number or string")

// IDWrap holds a record id as the server sent it: either a number or a string.
// Two ids are equal when their canonical text is equal, so 7 and "7" address
// the same record.
type IDWrap struct {
	num   int64
	text  string
	isNum bool
}

func NewNum(n int64) IDWrap {
	return IDWrap{num: n, isNum: true}
}

func NewText(s string) IDWrap {
	return IDWrap{text: s}
}

// NewNow returns a fresh ULID text id.
func NewNow() IDWrap {
	return IDWrap{text: ulid.Make().String()}
}

// Parse converts command line input. Decimal integers become numeric ids.
func Parse(s string) IDWrap {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewNum(n)
	}
	return NewText(s)
}

func (u IDWrap) String() string {
	if u.isNum {
		return strconv.FormatInt(u.num, 10)
	}
	return u.text
}

func (u IDWrap) IsZero() bool {
	return !u.isNum && u.text == ""
}

func (u IDWrap) IsNum() bool {
	return u.isNum
}

// Num returns the numeric value of numeric ids and of decimal text ids.
func (u IDWrap) Num() (int64, bool) {
	if u.isNum {
		return u.num, true
	}
	n, err := strconv.ParseInt(u.text, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (u IDWrap) Equal(id IDWrap) bool {
	return u.String() == id.String()
}

func (u IDWrap) MarshalJSON() ([]byte, error) {
	if u.isNum {
		return []byte(strconv.FormatInt(u.num, 10)), nil
	}
	return json.Marshal(u.text)
}

func (u *IDWrap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrInvalidID
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = NewText(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// json-server accepts fractional ids; keep their literal form
		if _, ferr := strconv.ParseFloat(string(data), 64); ferr != nil {
			return ErrInvalidID
		}
		*u = NewText(string(data))
		return nil
	}
	*u = NewNum(n)
	return nil
}

// JoinIDs renders ids as the comma separated path segment used for batch deletes.
func JoinIDs(ids []IDWrap) string {
	var buf bytes.Buffer
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(id.String())
	}
	return buf.String()
}
