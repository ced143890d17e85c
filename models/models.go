// Package models defines the routing configuration shared between the
// operator UI and the matrix controller.
//
// A Config holds one 16×16 routing matrix per shift level plus the shift
// function bound to each physical input. The JSON form of Config is the
// payload of the `CFG:` and `SETCFG:` protocol lines.
package models

import "fmt"

// Layout/protocol constants.
const (
	// Version is the configuration schema version this build understands.
	Version = 1

	// Size is the matrix dimension (outputs × inputs) and the number of
	// physical inputs carrying a shift function.
	Size = 16
)

// Level identifies one of the four routing layers.
type Level int

const (
	Normal Level = iota
	Shift1
	Shift2
	Shift3
)

// Levels lists every shift level in wire order.
var Levels = [...]Level{Normal, Shift1, Shift2, Shift3}

// String implements fmt.Stringer. The result is the JSON field name of the
// level's matrix.
func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Shift1:
		return "shift1"
	case Shift2:
		return "shift2"
	case Shift3:
		return "shift3"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid shift level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText accepts anything ParseLevel does.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool { return l >= Normal && l <= Shift3 }

// ParseLevel accepts a level name ("normal", "shift1"...) or its numeric
// shift function ID ("0".."3").
func ParseLevel(s string) (Level, error) {
	switch s {
	case "normal", "0":
		return Normal, nil
	case "shift1", "1":
		return Shift1, nil
	case "shift2", "2":
		return Shift2, nil
	case "shift3", "3":
		return Shift3, nil
	}
	return 0, fmt.Errorf("unknown shift level %q", s)
}

// Matrix is a routing grid; m[out][in] reports whether output out is fed
// from input in.
type Matrix [][]bool

// NewMatrix returns an all-false Size×Size matrix.
func NewMatrix() Matrix {
	m := make(Matrix, Size)
	for i := range m {
		m[i] = make([]bool, Size)
	}
	return m
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]bool(nil), row...)
	}
	return out
}

// Active counts the routed cells.
func (m Matrix) Active() int {
	n := 0
	for _, row := range m {
		for _, v := range row {
			if v {
				n++
			}
		}
	}
	return n
}

// Config is the unit of truth exchanged with the device.
type Config struct {
	Version         int    `json:"version" yaml:"version"`
	Size            int    `json:"size" yaml:"size"`
	ShiftFunctionID []int  `json:"shiftFunctionID" yaml:"shiftFunctionID"`
	Normal          Matrix `json:"normal" yaml:"normal"`
	Shift1          Matrix `json:"shift1" yaml:"shift1"`
	Shift2          Matrix `json:"shift2" yaml:"shift2"`
	Shift3          Matrix `json:"shift3" yaml:"shift3"`
}

// Default returns the configuration used at start-up and after a reset:
// empty matrices, every input on the normal function.
func Default() *Config {
	return &Config{
		Version:         Version,
		Size:            Size,
		ShiftFunctionID: make([]int, Size),
		Normal:          NewMatrix(),
		Shift1:          NewMatrix(),
		Shift2:          NewMatrix(),
		Shift3:          NewMatrix(),
	}
}

// Matrix returns the grid for level, or nil for an unknown level. The
// returned matrix aliases c.
func (c *Config) Matrix(level Level) Matrix {
	switch level {
	case Normal:
		return c.Normal
	case Shift1:
		return c.Shift1
	case Shift2:
		return c.Shift2
	case Shift3:
		return c.Shift3
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	return &Config{
		Version:         c.Version,
		Size:            c.Size,
		ShiftFunctionID: append([]int(nil), c.ShiftFunctionID...),
		Normal:          c.Normal.Clone(),
		Shift1:          c.Shift1.Clone(),
		Shift2:          c.Shift2.Clone(),
		Shift3:          c.Shift3.Clone(),
	}
}

// Equal reports whether c and o describe the same configuration.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Version != o.Version || c.Size != o.Size || len(c.ShiftFunctionID) != len(o.ShiftFunctionID) {
		return false
	}
	for i := range c.ShiftFunctionID {
		if c.ShiftFunctionID[i] != o.ShiftFunctionID[i] {
			return false
		}
	}
	for _, l := range Levels {
		if !matrixEqual(c.Matrix(l), o.Matrix(l)) {
			return false
		}
	}
	return true
}

func matrixEqual(a, b Matrix) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}
