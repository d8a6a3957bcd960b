package domain

import "fmt"

// ValidationError marks a single malformed or out-of-range input field.
// The offending record is rejected; the batch continues.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Entity, e.Field, e.Reason)
}

// LinkageError marks a record that references a non-existent upstream entity.
type LinkageError struct {
	Entity string // referencing entity kind, e.g. "order"
	ID     string // referencing entity id
	Kind   string // missing upstream entity kind, e.g. "decision_record"
	Ref    string // missing upstream id
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("%s %s references missing %s %q", e.Entity, e.ID, e.Kind, e.Ref)
}
