// Package schema validates mutations against the implicit table shape
// every user table carries (spec §6): created_at, updated_at, is_deleted
// are reserved and may not be user-defined columns; values must match one
// of the SqlScalar variants.
//
// Grounded on github.com/go-playground/validator/v10 (already an indirect
// teacher dependency via gin), promoted to direct use the way a gin
// handler validates a request DTO before it reaches business logic.
package schema

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/evolu-go/core/pkg/evolu"
)

// ReservedColumns are implicit on every user table and may not be
// user-defined (spec §6).
var ReservedColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"is_deleted": true,
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// tableRef is validated with the struct-tag idiom validator/v10 projects
// use for request DTOs.
type tableRef struct {
	Table  string `validate:"required,max=128"`
	Column string `validate:"required,max=128"`
	RowID  string `validate:"required,max=256"`
}

var validate = validator.New()

// ValidateMutationTarget checks that (table, rowID, column) is an
// acceptable write target: non-empty, within length bounds, and — for a
// column name supplied by a user-defined mutation body rather than the
// engine itself — not one of the reserved implicit columns.
func ValidateMutationTarget(table, rowID, column string, userSupplied bool) error {
	ref := tableRef{Table: table, Column: column, RowID: rowID}
	if err := validate.Struct(ref); err != nil {
		return fmt.Errorf("%w: %v", evolu.ErrTypeValidation, err)
	}
	if !identifierRe.MatchString(table) {
		return fmt.Errorf("%w: table name %q is not a valid identifier", evolu.ErrUnknownTable, table)
	}
	if !identifierRe.MatchString(column) {
		return fmt.Errorf("%w: column name %q is not a valid identifier", evolu.ErrTypeValidation, column)
	}
	if userSupplied && ReservedColumns[column] {
		return fmt.Errorf("%w: column %q is reserved and implicitly maintained", evolu.ErrTypeValidation, column)
	}
	if rowID == "" {
		return fmt.Errorf("%w: table %s", evolu.ErrMissingID, table)
	}
	return nil
}

// ValidateScalar checks that a SqlScalar's Kind tag is one of the known
// variants; the value fields themselves are not inspected.
func ValidateScalar(v evolu.SqlScalar) error {
	switch v.Kind {
	case evolu.ScalarNull, evolu.ScalarInt, evolu.ScalarFloat, evolu.ScalarText, evolu.ScalarBytes:
		return nil
	default:
		return fmt.Errorf("%w: unknown scalar kind %d", evolu.ErrTypeValidation, v.Kind)
	}
}

// ValidateMutation validates every column assignment in a mutation.
func ValidateMutation(m evolu.Mutation) error {
	for column, value := range m.Columns {
		if err := ValidateMutationTarget(m.Table, m.RowID, column, true); err != nil {
			return err
		}
		if err := ValidateScalar(value); err != nil {
			return err
		}
	}
	return nil
}
