package engine

import "errors"

// Typed failures surfaced to the host. Ops wrap these with context via
// fmt.Errorf("...: %w", err) so callers match with errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSlippage          = errors.New("slippage limit exceeded")
	ErrNotFound          = errors.New("not found")
	ErrNotLiquidatable   = errors.New("not liquidatable")
	ErrInvalidOracle     = errors.New("invalid oracle")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrCapacity          = errors.New("market out of free blocks")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrExpired           = errors.New("order expired")
)
