package patch

// Optional is one field of a sparse patch. The zero value means the field is
// absent from the patch and must not touch the stored value.
//
//   - not set: IsSet() == false
//   - unset:   IsSet() == true, Value() == nil (field cleared to null)
//   - value:   IsSet() == true, Value() != nil
type Optional[T any] struct {
	value *T
	set   bool
}

func NewOptional[T any](val T) Optional[T] {
	return Optional[T]{value: &val, set: true}
}

// NewOptionalPtr treats a nil pointer as an explicit unset.
func NewOptionalPtr[T any](val *T) Optional[T] {
	if val == nil {
		return Unset[T]()
	}
	return Optional[T]{value: val, set: true}
}

func Unset[T any]() Optional[T] {
	return Optional[T]{set: true}
}

func NotSet[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

func (o Optional[T]) Value() *T {
	return o.value
}

func (o Optional[T]) IsUnset() bool {
	return o.set && o.value == nil
}

func (o Optional[T]) HasValue() bool {
	return o.set && o.value != nil
}
