package models

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Toggle flips the cell (row=out, col=in) of level and returns its new value.
func (c *Config) Toggle(level Level, row, col int) (bool, error) {
	if err := checkCell(level, row, col); err != nil {
		return false, err
	}
	m := c.Matrix(level)
	m[row][col] = !m[row][col]
	return m[row][col], nil
}

// Set assigns a single cell of level.
func (c *Config) Set(level Level, row, col int, on bool) error {
	if err := checkCell(level, row, col); err != nil {
		return err
	}
	c.Matrix(level)[row][col] = on
	return nil
}

// Fill sets every cell of level to on.
func (c *Config) Fill(level Level, on bool) error {
	if !level.Valid() {
		return invalid("level", "unknown level %d", int(level))
	}
	for _, row := range c.Matrix(level) {
		for j := range row {
			row[j] = on
		}
	}
	return nil
}

// RandomFill sets each cell of level independently with probability
// density. A nil src uses the global generator.
func (c *Config) RandomFill(level Level, density float64, src rand.Source) error {
	if !level.Valid() {
		return invalid("level", "unknown level %d", int(level))
	}
	if density < 0 || density > 1 {
		return invalid("density", "%v outside [0,1]", density)
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	dist := distuv.Bernoulli{P: density, Src: src}
	for _, row := range c.Matrix(level) {
		for j := range row {
			row[j] = dist.Rand() == 1
		}
	}
	return nil
}

// SetShiftFunction binds physical input to the shift function fn.
func (c *Config) SetShiftFunction(input int, fn Level) error {
	if input < 0 || input >= Size {
		return invalid("shiftFunctionID", "input %d outside 0..%d", input, Size-1)
	}
	if !fn.Valid() {
		return invalid(fmt.Sprintf("shiftFunctionID[%d]", input), "function %d out of range 0..3", int(fn))
	}
	c.ShiftFunctionID[input] = int(fn)
	return nil
}
