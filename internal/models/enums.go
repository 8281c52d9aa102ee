package models

import "strings"

// PositionStatus is the overall lifecycle state of an iron fly position.
// Transitions only move forward: Open -> Complete -> Closed.
type PositionStatus string

const (
	// StatusOpen means the order batch has been submitted but not all legs have filled.
	StatusOpen PositionStatus = "OPEN"
	// StatusComplete means all four legs filled and risk thresholds are derived.
	StatusComplete PositionStatus = "COMPLETE"
	// StatusClosed is terminal; the position is retained for audit, never deleted.
	StatusClosed PositionStatus = "CLOSED"
)

// rank orders lifecycle states so transitions can be validated as forward-only.
func (s PositionStatus) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusComplete:
		return 1
	case StatusClosed:
		return 2
	default:
		return -1
	}
}

// Valid returns true if the status is one of the defined constants.
func (s PositionStatus) Valid() bool {
	return s.rank() >= 0
}

// StopLossState tracks which short sides have been exited by the risk monitor.
// It is monotonic: None -> {CallExited|PutExited} -> AllExited, never backwards.
type StopLossState string

const (
	// StopLossNone means neither side has hit its stop loss.
	StopLossNone StopLossState = "NONE"
	// StopLossCallExited means the call pair has been closed.
	StopLossCallExited StopLossState = "CE_EXITED"
	// StopLossPutExited means the put pair has been closed.
	StopLossPutExited StopLossState = "PE_EXITED"
	// StopLossAllExited means both pairs are closed; no further exits may be issued.
	StopLossAllExited StopLossState = "ALL_EXITED"
)

// CallExited reports whether the call pair has already been closed.
func (s StopLossState) CallExited() bool {
	return s == StopLossCallExited || s == StopLossAllExited
}

// PutExited reports whether the put pair has already been closed.
func (s StopLossState) PutExited() bool {
	return s == StopLossPutExited || s == StopLossAllExited
}

// canAdvance reports whether moving to the target state keeps the progression monotonic.
func (s StopLossState) canAdvance(to StopLossState) bool {
	switch s {
	case StopLossNone, "":
		return to == StopLossCallExited || to == StopLossPutExited || to == StopLossAllExited
	case StopLossCallExited, StopLossPutExited:
		return to == StopLossAllExited
	default:
		return false
	}
}

// AdjustmentState tracks whether the adjustment band has fired for a position.
type AdjustmentState string

const (
	// AdjustmentOpen means the position is still inside its adjustment band.
	AdjustmentOpen AdjustmentState = "OPEN"
	// AdjustmentClosed means the position was closed by an adjustment-band breach.
	AdjustmentClosed AdjustmentState = "CLOSED"
)

// OrderStatus mirrors the brokerage's per-order status vocabulary.
type OrderStatus string

const (
	// OrderStatusUnknown is the zero value used before the first reconciliation pass.
	OrderStatusUnknown OrderStatus = ""
	// OrderStatusPending means the order has been accepted but not routed yet.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusOpen means the order is resting at the exchange.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusComplete means the order filled entirely.
	OrderStatusComplete OrderStatus = "complete"
	// OrderStatusRejected means the brokerage or exchange refused the order.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCancelled means the order was cancelled before filling.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus normalizes a raw brokerage status string. Unrecognized
// statuses map to pending-like intermediate states rather than errors, so an
// unknown vocabulary entry never strands a leg.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "filled":
		return OrderStatusComplete
	case "rejected":
		return OrderStatusRejected
	case "cancelled", "canceled":
		return OrderStatusCancelled
	case "open", "trigger pending", "modify pending":
		return OrderStatusOpen
	case "":
		return OrderStatusUnknown
	default:
		return OrderStatusPending
	}
}

// IsTerminal reports whether the brokerage will never change this status again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusComplete, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFilled reports whether the order filled.
func (s OrderStatus) IsFilled() bool {
	return s == OrderStatusComplete
}

// TransactionSide is the direction of an order.
type TransactionSide string

const (
	// SideBuy buys the contract.
	SideBuy TransactionSide = "BUY"
	// SideSell sells the contract.
	SideSell TransactionSide = "SELL"
)

// Opposite returns the reversing side, used when closing a leg.
func (t TransactionSide) Opposite() TransactionSide {
	if t == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OptionType distinguishes calls from puts using exchange suffixes.
type OptionType string

const (
	// OptionCall is a call option (CE suffix).
	OptionCall OptionType = "CE"
	// OptionPut is a put option (PE suffix).
	OptionPut OptionType = "PE"
)

// LegRole identifies one of the four fixed legs of an iron fly. The values
// double as the correlation ids sent with the order batch, so a brokerage
// response maps straight back onto a leg.
type LegRole string

const (
	// RoleBuyCall is the long call wing.
	RoleBuyCall LegRole = "buy_ce"
	// RoleBuyPut is the long put wing.
	RoleBuyPut LegRole = "buy_pe"
	// RoleSellCall is the short call at the center strike.
	RoleSellCall LegRole = "sell_ce"
	// RoleSellPut is the short put at the center strike.
	RoleSellPut LegRole = "sell_pe"
)

// LegRoles lists all four roles in deterministic order.
var LegRoles = []LegRole{RoleBuyCall, RoleBuyPut, RoleSellCall, RoleSellPut}

// Valid returns true if the role is one of the four defined legs.
func (r LegRole) Valid() bool {
	switch r {
	case RoleBuyCall, RoleBuyPut, RoleSellCall, RoleSellPut:
		return true
	default:
		return false
	}
}

// Side returns the direction this leg was opened with.
func (r LegRole) Side() TransactionSide {
	if r == RoleBuyCall || r == RoleBuyPut {
		return SideBuy
	}
	return SideSell
}

// OptionType returns whether the leg is a call or a put.
func (r LegRole) OptionType() OptionType {
	if r == RoleBuyCall || r == RoleSellCall {
		return OptionCall
	}
	return OptionPut
}
