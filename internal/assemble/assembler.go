// Package assemble turns a fully-received set of named tables into a
// validated LP problem.
package assemble

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Recognized table roles within one optimization request.
const (
	TableS         = "S"
	TableB         = "b"
	TableC         = "c"
	TableLB        = "lb"
	TableUB        = "ub"
	TableOsenseStr = "osenseStr"
	TableOsense    = "osense"
	TableCsense    = "csense"
	TableRxns      = "rxns"
	TableMets      = "mets"
	TableSolver    = "solver"

	// Optional coupling tables, appended as extra constraint rows.
	TableCoupling      = "C"
	TableCouplingB     = "d"
	TableCouplingSense = "dsense"
	TableCouplingNames = "ctrs"
)

// MetadataKeyDimensions carries the declared matrix shape, e.g. "[2, 3]".
const MetadataKeyDimensions = "dimensions"

// request holds one optional slot per recognized table name, resolved from
// the dynamic table map in a single pass so missing tables are reported from
// one place.
type request struct {
	s         *types.Table
	b         *types.Table
	c         *types.Table
	lb        *types.Table
	ub        *types.Table
	osenseStr *types.Table
	osense    *types.Table
	csense    *types.Table
	rxns      *types.Table
	mets      *types.Table

	coupling      *types.Table
	couplingB     *types.Table
	couplingSense *types.Table
	couplingNames *types.Table
}

func resolve(tables types.TableSet) *request {
	return &request{
		s:             tables[TableS],
		b:             tables[TableB],
		c:             tables[TableC],
		lb:            tables[TableLB],
		ub:            tables[TableUB],
		osenseStr:     tables[TableOsenseStr],
		osense:        tables[TableOsense],
		csense:        tables[TableCsense],
		rxns:          tables[TableRxns],
		mets:          tables[TableMets],
		coupling:      tables[TableCoupling],
		couplingB:     tables[TableCouplingB],
		couplingSense: tables[TableCouplingSense],
		couplingNames: tables[TableCouplingNames],
	}
}

// Assemble builds an LP problem from a request's table set. All failures are
// types.ErrAssembly-wrapped: they abort the request but never the session.
func Assemble(tables types.TableSet) (*types.LPProblem, error) {
	req := resolve(tables)

	matrix, err := buildMatrix(req.s, TableS)
	if err != nil {
		return nil, err
	}

	b, err := floatVector(req.b, TableB)
	if err != nil {
		return nil, err
	}
	c, err := floatVector(req.c, TableC)
	if err != nil {
		return nil, err
	}
	lb, err := floatVector(req.lb, TableLB)
	if err != nil {
		return nil, err
	}
	ub, err := floatVector(req.ub, TableUB)
	if err != nil {
		return nil, err
	}

	osense, err := resolveSense(req.osenseStr, req.osense)
	if err != nil {
		return nil, err
	}

	csense, err := senseChars(req.csense, TableCsense)
	if err != nil {
		return nil, err
	}

	rxns, err := stringVector(req.rxns, TableRxns)
	if err != nil {
		return nil, err
	}
	mets, err := stringVector(req.mets, TableMets)
	if err != nil {
		return nil, err
	}

	problem := &types.LPProblem{
		S:      matrix,
		B:      b,
		C:      c,
		LB:     lb,
		UB:     ub,
		OSense: osense,
		CSense: csense,
		Rxns:   rxns,
		Mets:   mets,
	}

	if err := applyCoupling(problem, req); err != nil {
		return nil, err
	}

	if err := problem.Validate(); err != nil {
		return nil, assemblyErr("model validation failed: %v", err)
	}
	return problem, nil
}

// applyCoupling appends the coupling constraints when both C and d are
// present. A request carrying exactly one of the pair is treated as
// uncoupled; the stray table is ignored with a warning.
func applyCoupling(p *types.LPProblem, req *request) error {
	if req.coupling == nil && req.couplingB == nil {
		return nil
	}
	if req.coupling == nil || req.couplingB == nil {
		log.Printf("assemble: ignoring partial coupling input (have C=%v d=%v); model treated as uncoupled",
			req.coupling != nil, req.couplingB != nil)
		return nil
	}

	cMat, err := buildMatrix(req.coupling, TableCoupling)
	if err != nil {
		return err
	}
	if cMat.NumCols != p.S.NumCols {
		return assemblyErr("coupling matrix has %d columns, model has %d", cMat.NumCols, p.S.NumCols)
	}

	d, err := floatVector(req.couplingB, TableCouplingB)
	if err != nil {
		return err
	}
	dsense, err := senseChars(req.couplingSense, TableCouplingSense)
	if err != nil {
		return err
	}
	ctrs, err := stringVector(req.couplingNames, TableCouplingNames)
	if err != nil {
		return err
	}

	offset := int64(p.S.NumRows)
	for i := range cMat.Vals {
		p.S.Rows = append(p.S.Rows, cMat.Rows[i]+offset)
		p.S.Cols = append(p.S.Cols, cMat.Cols[i])
		p.S.Vals = append(p.S.Vals, cMat.Vals[i])
	}
	p.S.NumRows += cMat.NumRows
	p.B = append(p.B, d...)
	p.CSense = append(p.CSense, dsense...)
	p.Mets = append(p.Mets, ctrs...)
	return nil
}

// buildMatrix reads a coordinate-format matrix table: columns row, col, val
// and a dimensions metadata entry. Duplicate coordinates accumulate
// additively.
func buildMatrix(t *types.Table, name string) (types.COOMatrix, error) {
	if t == nil {
		return types.COOMatrix{}, assemblyErr("required table %q not found", name)
	}
	nrows, ncols, err := parseDimensions(t.Metadata[MetadataKeyDimensions])
	if err != nil {
		return types.COOMatrix{}, assemblyErr("table %q: %v", name, err)
	}

	rowCol, ok := t.Column("row")
	if !ok || rowCol.Type != types.ColumnInt64 {
		return types.COOMatrix{}, assemblyErr("table %q: missing int64 column %q", name, "row")
	}
	colCol, ok := t.Column("col")
	if !ok || colCol.Type != types.ColumnInt64 {
		return types.COOMatrix{}, assemblyErr("table %q: missing int64 column %q", name, "col")
	}
	valCol, ok := t.Column("val")
	if !ok || valCol.Type != types.ColumnFloat64 {
		return types.COOMatrix{}, assemblyErr("table %q: missing float64 column %q", name, "val")
	}

	m := types.COOMatrix{NumRows: nrows, NumCols: ncols}
	for i := range valCol.Float64s {
		row, col := rowCol.Int64s[i], colCol.Int64s[i]
		if row < 1 || row > int64(nrows) || col < 1 || col > int64(ncols) {
			return types.COOMatrix{}, assemblyErr(
				"table %q: coordinate (%d, %d) outside declared dimensions [%d, %d]",
				name, row, col, nrows, ncols)
		}
		m.Append(row, col, valCol.Float64s[i])
	}
	return m, nil
}

// parseDimensions parses a "[nrows, ncols]" dimensions string.
func parseDimensions(s string) (int, int, error) {
	if s == "" {
		return 0, 0, fmt.Errorf("missing %q metadata", MetadataKeyDimensions)
	}
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unparseable dimensions %q", s)
	}
	nrows, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable dimensions %q: %v", s, err)
	}
	ncols, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("unparseable dimensions %q: %v", s, err)
	}
	if nrows < 0 || ncols < 0 {
		return 0, 0, fmt.Errorf("negative dimensions %q", s)
	}
	return nrows, ncols, nil
}

// resolveSense maps the objective sense tables to -1 (min) or 1 (max).
// osenseStr wins when both are present; only one is ever consulted.
func resolveSense(osenseStr, osense *types.Table) (int8, error) {
	if osenseStr != nil {
		col := firstColumn(osenseStr)
		if col == nil || col.Type != types.ColumnString || col.Len() == 0 {
			return 0, assemblyErr("table %q: expected a string value", TableOsenseStr)
		}
		switch strings.ToLower(col.Strings[0]) {
		case "min":
			return types.SenseMinimize, nil
		case "max":
			return types.SenseMaximize, nil
		default:
			return 0, assemblyErr("table %q: unknown sense %q", TableOsenseStr, col.Strings[0])
		}
	}
	if osense != nil {
		col := firstColumn(osense)
		if col == nil || col.Len() == 0 {
			return 0, assemblyErr("table %q: expected a value", TableOsense)
		}
		switch col.Type {
		case types.ColumnInt8:
			return col.Int8s[0], nil
		case types.ColumnInt64:
			return int8(col.Int64s[0]), nil
		default:
			return 0, assemblyErr("table %q: expected an integer value, got %s", TableOsense, col.Type)
		}
	}
	return 0, assemblyErr("objective sense not found: neither %q nor %q present", TableOsenseStr, TableOsense)
}

// senseChars concatenates all non-absent entries of a sense column into one
// character sequence, one character per constraint row.
func senseChars(t *types.Table, name string) ([]byte, error) {
	if t == nil {
		return nil, assemblyErr("required table %q not found", name)
	}
	col := firstColumn(t)
	if col == nil || col.Type != types.ColumnString {
		return nil, assemblyErr("table %q: missing string column", name)
	}
	var out []byte
	for i, v := range col.Strings {
		if col.IsNull(i) {
			continue
		}
		out = append(out, v...)
	}
	return out, nil
}

// floatVector reads a table's single float64 column.
func floatVector(t *types.Table, name string) ([]float64, error) {
	if t == nil {
		return nil, assemblyErr("required table %q not found", name)
	}
	col := firstColumn(t)
	if col == nil || col.Type != types.ColumnFloat64 {
		return nil, assemblyErr("table %q: missing float64 column", name)
	}
	return col.Float64s, nil
}

// stringVector reads a table's single string column.
func stringVector(t *types.Table, name string) ([]string, error) {
	if t == nil {
		return nil, assemblyErr("required table %q not found", name)
	}
	col := firstColumn(t)
	if col == nil || col.Type != types.ColumnString {
		return nil, assemblyErr("table %q: missing string column", name)
	}
	return col.Strings, nil
}

func firstColumn(t *types.Table) *types.Column {
	if len(t.Columns) == 0 {
		return nil
	}
	return &t.Columns[0]
}

func assemblyErr(format string, args ...interface{}) error {
	return fmt.Errorf("assemble: %w: %s", types.ErrAssembly, fmt.Sprintf(format, args...))
}

// SolverSpecFromTable extracts the solver name and ordered parameter list
// from the solver table. Parameter values may be absent.
func SolverSpecFromTable(t *types.Table) (types.SolverSpec, error) {
	if t == nil {
		return types.SolverSpec{}, assemblyErr("required table %q not found", TableSolver)
	}
	nameCol, ok := t.Column("solver_name")
	if !ok || nameCol.Type != types.ColumnString {
		return types.SolverSpec{}, assemblyErr("table %q: missing string column %q", TableSolver, "solver_name")
	}

	spec := types.SolverSpec{}
	for i, v := range nameCol.Strings {
		if !nameCol.IsNull(i) && v != "" {
			spec.Name = v
			break
		}
	}
	if spec.Name == "" {
		return types.SolverSpec{}, assemblyErr("table %q: empty solver name", TableSolver)
	}

	keyCol, hasKeys := t.Column("param_key")
	valCol, hasVals := t.Column("param_value")
	if !hasKeys {
		return spec, nil
	}
	for i := 0; i < keyCol.Len(); i++ {
		if keyCol.IsNull(i) {
			continue
		}
		param := types.SolverParam{Key: keyCol.Strings[i]}
		if hasVals && !valCol.IsNull(i) {
			param.Value = valCol.Strings[i]
			param.HasValue = true
		}
		spec.Params = append(spec.Params, param)
	}
	return spec, nil
}

// SolverSpecTable builds the solver table for transmission: one row per
// parameter (or a single row for a parameterless spec), solver_name carried
// on the first row.
func SolverSpecTable(spec types.SolverSpec) *types.Table {
	rows := len(spec.Params)
	if rows == 0 {
		rows = 1
	}

	names := make([]string, rows)
	nameNulls := make([]bool, rows)
	keys := make([]string, rows)
	keyNulls := make([]bool, rows)
	vals := make([]string, rows)
	valNulls := make([]bool, rows)

	for i := 0; i < rows; i++ {
		nameNulls[i] = i != 0
		keyNulls[i] = true
		valNulls[i] = true
	}
	names[0] = spec.Name
	for i, p := range spec.Params {
		keys[i] = p.Key
		keyNulls[i] = false
		if p.HasValue {
			vals[i] = p.Value
			valNulls[i] = false
		}
	}

	t := types.NewTable(TableSolver,
		types.Column{Name: "solver_name", Type: types.ColumnString, Strings: names, Nulls: nameNulls},
		types.Column{Name: "param_key", Type: types.ColumnString, Strings: keys, Nulls: keyNulls},
		types.Column{Name: "param_value", Type: types.ColumnString, Strings: vals, Nulls: valNulls},
	)
	return t
}
