package engine

import "errors"

// Sentinel error kinds per spec §7, for callers to test with errors.Is.
// orders.Manager.Place wraps its rejections in ErrOrderRejected and the
// trading loop wraps a failed invariant check in ErrInvariantViolation;
// ErrTransient and ErrInsufficientCash are not returned by any function in
// this module.
var (
	// ErrTransient marks a transient network/exchange error: skip the
	// affected symbol for this tick, log, continue; never escalates.
	ErrTransient = errors.New("transient error")

	// ErrOrderRejected marks an order the exchange refused: log with
	// reason, do not retry automatically.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientCash marks a failed open_position due to cash; the
	// engine does not retry the same bar.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInvariantViolation marks a bug, not a market condition (e.g.
	// negative equity, double-open on a key, stop_loss == entry_price).
	// Fatal: log and stop the loop.
	ErrInvariantViolation = errors.New("invariant violation")
)
