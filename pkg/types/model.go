package types

import "fmt"

// Objective senses. The wire value "min" maps to SenseMinimize and "max" to
// SenseMaximize; an explicit osense value is passed through unchanged.
const (
	SenseMinimize int8 = -1
	SenseMaximize int8 = 1
)

// COOMatrix is a sparse matrix in coordinate format. Row and column indices
// are 1-based. Duplicate coordinates accumulate additively when the matrix
// is materialized by a solver.
type COOMatrix struct {
	NumRows int
	NumCols int
	Rows    []int64
	Cols    []int64
	Vals    []float64
}

// NNZ returns the number of stored coordinate entries.
func (m *COOMatrix) NNZ() int {
	return len(m.Vals)
}

// Append adds an entry, merging it additively into an existing coordinate if
// one is already present.
func (m *COOMatrix) Append(row, col int64, val float64) {
	for i := range m.Vals {
		if m.Rows[i] == row && m.Cols[i] == col {
			m.Vals[i] += val
			return
		}
	}
	m.Rows = append(m.Rows, row)
	m.Cols = append(m.Cols, col)
	m.Vals = append(m.Vals, val)
}

// LPProblem is a linear program in standard constrained form.
//
// Invariants: len(B) == len(CSense) == len(Mets) == S.NumRows and
// len(C) == len(LB) == len(UB) == len(Rxns) == S.NumCols.
type LPProblem struct {
	S      COOMatrix
	B      []float64
	C      []float64
	LB     []float64
	UB     []float64
	OSense int8
	CSense []byte
	Rxns   []string
	Mets   []string
}

// Validate checks the LP problem's shape invariants and coordinate bounds.
func (p *LPProblem) Validate() error {
	nrows, ncols := p.S.NumRows, p.S.NumCols
	if len(p.B) != nrows {
		return fmt.Errorf("b has %d entries, expected %d rows", len(p.B), nrows)
	}
	if len(p.CSense) != nrows {
		return fmt.Errorf("csense has %d entries, expected %d rows", len(p.CSense), nrows)
	}
	if len(p.Mets) != nrows {
		return fmt.Errorf("mets has %d entries, expected %d rows", len(p.Mets), nrows)
	}
	if len(p.C) != ncols {
		return fmt.Errorf("c has %d entries, expected %d columns", len(p.C), ncols)
	}
	if len(p.LB) != ncols {
		return fmt.Errorf("lb has %d entries, expected %d columns", len(p.LB), ncols)
	}
	if len(p.UB) != ncols {
		return fmt.Errorf("ub has %d entries, expected %d columns", len(p.UB), ncols)
	}
	if len(p.Rxns) != ncols {
		return fmt.Errorf("rxns has %d entries, expected %d columns", len(p.Rxns), ncols)
	}
	if p.OSense != SenseMinimize && p.OSense != SenseMaximize {
		return fmt.Errorf("osense must be -1 or 1, got %d", p.OSense)
	}
	for i := range p.S.Vals {
		if p.S.Rows[i] < 1 || p.S.Rows[i] > int64(nrows) {
			return fmt.Errorf("coordinate row %d out of range [1, %d]", p.S.Rows[i], nrows)
		}
		if p.S.Cols[i] < 1 || p.S.Cols[i] > int64(ncols) {
			return fmt.Errorf("coordinate column %d out of range [1, %d]", p.S.Cols[i], ncols)
		}
	}
	return nil
}

// SolverParam is one key/value solver parameter. HasValue distinguishes a
// parameter whose value is absent from one whose value is the empty string.
type SolverParam struct {
	Key      string
	Value    string
	HasValue bool
}

// SolverSpec names a solver backend and its ordered parameter list. An empty
// parameter list is valid.
type SolverSpec struct {
	Name   string
	Params []SolverParam
}

// OptimizationResult is the successful outcome of one optimize request.
// Failures are reported as errors, not as a result variant.
type OptimizationResult struct {
	Status    string
	Objective float64
	Rxns      []string
	Flux      []float64
}
