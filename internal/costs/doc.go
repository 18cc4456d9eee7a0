// Package costs estimates stage costs with configurable formulas and
// aggregates the StageRun ledger into summaries.
package costs
