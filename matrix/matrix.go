// Package matrix derives routing statistics from a models.Matrix using gonum.
package matrix

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/CK6170/routematrix-web/models"
)

const MatrixLine = "------------------------------------------------------------------"

// Summary describes one routing layer. FanOut[in] counts the outputs input
// in feeds; FanIn[out] counts the inputs mixed into output out.
type Summary struct {
	Level    models.Level `json:"level"`
	Active   int          `json:"active"`
	FanIn    []int        `json:"fanIn"`
	FanOut   []int        `json:"fanOut"`
	Silent   []int        `json:"silentOutputs"`
	Unused   []int        `json:"unusedInputs"`
	Rank     int          `json:"rank"`
	Identity bool         `json:"identity"`
}

// Dense converts a routing grid to a 0/1 matrix (rows are outputs).
func Dense(m models.Matrix) *mat.Dense {
	d := mat.NewDense(models.Size, models.Size, nil)
	for i, row := range m {
		for j, on := range row {
			if on {
				d.Set(i, j, 1)
			}
		}
	}
	return d
}

// Summarize computes the routing statistics of level in cfg.
func Summarize(cfg *models.Config, level models.Level) (*Summary, error) {
	m := cfg.Matrix(level)
	if m == nil {
		return nil, fmt.Errorf("unknown shift level %d", int(level))
	}
	d := Dense(m)

	ones := mat.NewVecDense(models.Size, nil)
	for i := 0; i < models.Size; i++ {
		ones.SetVec(i, 1)
	}
	var rows, cols mat.VecDense
	rows.MulVec(d, ones)
	cols.MulVec(d.T(), ones)

	s := &Summary{
		Level:  level,
		Active: int(mat.Sum(d)),
		FanIn:  make([]int, models.Size),
		FanOut: make([]int, models.Size),
		Silent: []int{},
		Unused: []int{},
	}
	for i := 0; i < models.Size; i++ {
		s.FanIn[i] = int(rows.AtVec(i))
		s.FanOut[i] = int(cols.AtVec(i))
		if s.FanIn[i] == 0 {
			s.Silent = append(s.Silent, i)
		}
		if s.FanOut[i] == 0 {
			s.Unused = append(s.Unused, i)
		}
	}
	s.Rank = rank(d)
	s.Identity = mat.Equal(d, identity())
	return s, nil
}

// rank counts singular values above the usual tolerance. A full-rank layer
// routes every output from a distinct combination of inputs.
func rank(d *mat.Dense) int {
	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDNone) {
		return 0
	}
	s := svd.Values(nil)
	maxS := 0.0
	for _, si := range s {
		maxS = math.Max(maxS, si)
	}
	eps := 1e-12 * float64(models.Size) * maxS
	n := 0
	for _, si := range s {
		if si > eps {
			n++
		}
	}
	return n
}

func identity() *mat.Dense {
	d := mat.NewDense(models.Size, models.Size, nil)
	for i := 0; i < models.Size; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Overlap counts cells routed in both a and b.
func Overlap(a, b models.Matrix) int {
	var both mat.Dense
	both.MulElem(Dense(a), Dense(b))
	return int(mat.Sum(&both))
}

// Render draws the grid for a terminal; rows are outputs, columns inputs.
func Render(m models.Matrix, title string) string {
	sb := &strings.Builder{}
	sb.WriteString(MatrixLine + "\n")
	sb.WriteString(title + "\n")
	sb.WriteString("     ")
	for j := 0; j < models.Size; j++ {
		fmt.Fprintf(sb, "%3d", j)
	}
	sb.WriteString("\n")
	for i, row := range m {
		fmt.Fprintf(sb, "[%02d] ", i)
		for _, on := range row {
			if on {
				sb.WriteString("  #")
			} else {
				sb.WriteString("  .")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(MatrixLine)
	return sb.String()
}
