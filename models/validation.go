package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every ValidationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError describes the first invariant a configuration breaks.
type ValidationError struct {
	Field  string // JSON path of the offending value, e.g. "shift2[3]"
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

// Unwrap lets callers match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

func invalid(field, format string, a ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Validate checks every shape invariant of c: known version, size 16,
// 16 shift IDs in 0..3 and four complete 16×16 matrices.
func (c *Config) Validate() error {
	if c == nil {
		return invalid("", "missing configuration")
	}
	if c.Version != Version {
		return invalid("version", "unsupported version %d (want %d)", c.Version, Version)
	}
	if c.Size != Size {
		return invalid("size", "got %d, want %d", c.Size, Size)
	}
	if len(c.ShiftFunctionID) != Size {
		return invalid("shiftFunctionID", "has %d entries, want %d", len(c.ShiftFunctionID), Size)
	}
	for i, id := range c.ShiftFunctionID {
		if !Level(id).Valid() {
			return invalid(fmt.Sprintf("shiftFunctionID[%d]", i), "function %d out of range 0..3", id)
		}
	}
	for _, l := range Levels {
		if err := validateMatrix(l.String(), c.Matrix(l)); err != nil {
			return err
		}
	}
	return nil
}

func validateMatrix(name string, m Matrix) error {
	if m == nil {
		return invalid(name, "missing matrix")
	}
	if len(m) != Size {
		return invalid(name, "has %d rows, want %d", len(m), Size)
	}
	for i, row := range m {
		if len(row) != Size {
			return invalid(fmt.Sprintf("%s[%d]", name, i), "has %d columns, want %d", len(row), Size)
		}
	}
	return nil
}

func checkCell(level Level, row, col int) error {
	if !level.Valid() {
		return invalid("level", "unknown level %d", int(level))
	}
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return invalid(level.String(), "cell (%d,%d) outside %dx%d", row, col, Size, Size)
	}
	return nil
}
