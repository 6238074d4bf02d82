package model

import (
	"slices"
	"strings"
)

// Model is a decoded entity keyed by a Snowflake which knows how to merge a partial copy of itself.
type Model[M any] interface {
	EntityID() Snowflake
	// Merge returns a copy of the receiver with every specified field of incoming applied to it, and
	// the fields which actually changed.
	Merge(incoming M) (M, ChangeSet)
}

// FieldChange is one field which changed value during a merge. Old and New are nil for null or
// unspecified values.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

type ChangeSet []FieldChange

func (c ChangeSet) Changed(field string) bool {
	_, ok := c.Get(field)
	return ok
}

func (c ChangeSet) Get(field string) (FieldChange, bool) {
	for _, fc := range c {
		if fc.Field == field {
			return fc, true
		}
	}
	return FieldChange{}, false
}

func (c ChangeSet) Fields() []string {
	fields := make([]string, 0, len(c))
	for _, fc := range c {
		fields = append(fields, fc.Field)
	}
	return fields
}

func (c ChangeSet) String() string {
	return strings.Join(c.Fields(), ",")
}

func mergeField[T comparable](cs *ChangeSet, name string, dst *Optional[T], src Optional[T]) {
	mergeFieldFunc(cs, name, dst, src, func(a, b T) bool { return a == b })
}

func mergeFieldFunc[T any](cs *ChangeSet, name string, dst *Optional[T], src Optional[T], eq func(a, b T) bool) {
	if src.state == Unspecified {
		return
	}
	if !OptionalEqual(*dst, src, eq) {
		*cs = append(*cs, FieldChange{Field: name, Old: dst.Any(), New: src.Any()})
	}
	*dst = src
}

func mergeID(cs *ChangeSet, name string, dst *Snowflake, src Snowflake) {
	if src == 0 || *dst == src {
		return
	}
	*cs = append(*cs, FieldChange{Field: name, Old: *dst, New: src})
	*dst = src
}

func snowflakesEqual(a, b []Snowflake) bool {
	return slices.Equal(a, b)
}

// prefixed rewrites the field names of a nested merge, e.g. "username" -> "user.username".
func prefixed(prefix string, nested ChangeSet) ChangeSet {
	for i := range nested {
		nested[i].Field = prefix + "." + nested[i].Field
	}
	return nested
}
