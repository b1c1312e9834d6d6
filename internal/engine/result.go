package engine

import (
	"github.com/fluxbridge/fluxbridge/internal/engine/solver"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

// Response table shapes. A successful response is exactly three frames in
// order: the flag table, the flux table, and the status table; a failure
// response is a single failure table. Both are followed by the end marker.

// SuccessTables builds the three-frame success response for a solution.
func SuccessTables(rxns []string, sol solver.Solution) []*types.Table {
	flag := types.NewTable("flag",
		types.NewBoolColumn("success", []bool{true}),
		types.NewInt64Column("num_tables", []int64{2}),
	)
	flux := types.NewTable("flux",
		types.NewStringColumn("rxns", rxns),
		types.NewFloat64Column("flux", sol.Flux),
	)
	status := types.NewTable("status",
		types.NewStringColumn("status", []string{sol.Status}),
		types.NewFloat64Column("objective_value", []float64{sol.Objective}),
	)
	return []*types.Table{flag, flux, status}
}

// FailureTable builds the single-frame failure response.
func FailureTable(message string) *types.Table {
	return types.NewTable("error",
		types.NewBoolColumn("success", []bool{false}),
		types.NewStringColumn("error_message", []string{message}),
	)
}
