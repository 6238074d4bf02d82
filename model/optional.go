package model

import (
	"bytes"
	"encoding/json"
)

// OptionalState distinguishes a field which was absent from a payload from one which was explicitly null.
type OptionalState uint8

const (
	Unspecified OptionalState = iota
	Null
	Present
)

func (s OptionalState) String() string {
	switch s {
	case Null:
		return "null"
	case Present:
		return "present"
	default:
		return "unspecified"
	}
}

// Optional is a tri-state field value. The zero value is Unspecified, and is omitted when encoding
// provided the struct field is tagged `omitzero`.
type Optional[T any] struct {
	state OptionalState
	value T
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{state: Present, value: v}
}

func NullOf[T any]() Optional[T] {
	return Optional[T]{state: Null}
}

func (o Optional[T]) State() OptionalState { return o.state }

func (o Optional[T]) IsSpecified() bool { return o.state != Unspecified }

func (o Optional[T]) IsNull() bool { return o.state == Null }

func (o Optional[T]) IsPresent() bool { return o.state == Present }

// IsZero reports whether the field was never specified. encoding/json consults this for `omitzero`.
func (o Optional[T]) IsZero() bool { return o.state == Unspecified }

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == Present
}

func (o Optional[T]) OrElse(def T) T {
	if o.state == Present {
		return o.value
	}
	return def
}

// Any returns the value, or nil when the field is null or unspecified.
func (o Optional[T]) Any() any {
	if o.state != Present {
		return nil
	}
	return o.value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.state != Present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		o.state = Null
		o.value = zero
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.state = Present
	o.value = v
	return nil
}

// OptionalEqual compares two optionals by state, then by value using eq when both are present.
func OptionalEqual[T any](a, b Optional[T], eq func(x, y T) bool) bool {
	if a.state != b.state {
		return false
	}
	if a.state != Present {
		return true
	}
	return eq(a.value, b.value)
}
