package models

import (
	"fmt"
	"time"
)

// Factors applied when deriving risk thresholds from a completed fly.
const (
	adjustmentFactor = 0.7
	stopLossFactor   = 1.5
)

// Leg is one of the four orders composing an iron fly position.
type Leg struct {
	Role      LegRole     `json:"role"`
	Symbol    string      `json:"symbol"`
	OrderID   string      `json:"order_id,omitempty"`
	Status    OrderStatus `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	FillPrice float64     `json:"fill_price,omitempty"`
	// LastSide is the direction of the most recent order submitted for this
	// leg. It is persisted so that closing direction survives restarts.
	LastSide TransactionSide `json:"last_side"`
}

// ApplyUpdate copies a fetched order's state onto the leg and reports whether
// anything changed. A leg that already filled is never overwritten with a
// less-terminal status; the fill price is recorded only on a fill.
func (l *Leg) ApplyUpdate(status OrderStatus, message string, fillPrice float64) bool {
	if l.Status.IsFilled() && !status.IsFilled() {
		return false
	}

	changed := false
	if status.IsFilled() && l.FillPrice != fillPrice {
		l.FillPrice = fillPrice
		changed = true
	}
	if l.Status != status {
		l.Status = status
		changed = true
	}
	if l.Message != message {
		l.Message = message
		changed = true
	}
	return changed
}

// CloseSide returns the direction that flattens this leg.
func (l *Leg) CloseSide() TransactionSide {
	return l.LastSide.Opposite()
}

// Position represents one deployed iron fly instance for a single client.
type Position struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Strike   int `json:"strike"`
	Quantity int `json:"quantity"`

	Legs map[LegRole]*Leg `json:"legs"`

	// Derived fields, populated once all four legs fill.
	TotalCredit    float64 `json:"total_credit"`
	HighAdjustment float64 `json:"high_adjustment"`
	LowAdjustment  float64 `json:"low_adjustment"`
	HighStopLoss   float64 `json:"high_stop_loss"`
	LowStopLoss    float64 `json:"low_stop_loss"`

	StopLossState   StopLossState   `json:"stop_loss_state"`
	AdjustmentState AdjustmentState `json:"adjustment_state"`
	Status          PositionStatus  `json:"status"`
}

// NewPosition creates an Open position with the four legs' symbols populated
// and order ids unset. Each leg's LastSide starts as its deployment direction.
func NewPosition(id, clientID string, strike, quantity int, symbols map[LegRole]string) *Position {
	now := time.Now().UTC()
	p := &Position{
		ID:              id,
		ClientID:        clientID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Strike:          strike,
		Quantity:        quantity,
		Legs:            make(map[LegRole]*Leg, len(LegRoles)),
		StopLossState:   StopLossNone,
		AdjustmentState: AdjustmentOpen,
		Status:          StatusOpen,
	}
	for _, role := range LegRoles {
		p.Legs[role] = &Leg{
			Role:     role,
			Symbol:   symbols[role],
			LastSide: role.Side(),
		}
	}
	return p
}

// Leg returns the leg for the given role, or nil for an unknown role.
func (p *Position) Leg(role LegRole) *Leg {
	return p.Legs[role]
}

// AllLegsFilled reports whether every leg has reached the filled terminal status.
func (p *Position) AllLegsFilled() bool {
	for _, role := range LegRoles {
		leg := p.Legs[role]
		if leg == nil || !leg.Status.IsFilled() {
			return false
		}
	}
	return true
}

// HasRejectedLeg reports whether any leg was rejected by the brokerage.
// A rejected leg permanently prevents the position from completing.
func (p *Position) HasRejectedLeg() bool {
	for _, leg := range p.Legs {
		if leg.Status == OrderStatusRejected {
			return true
		}
	}
	return false
}

// ComputeDerived populates the credit and risk thresholds from the leg fills.
// Callers must ensure all legs are filled first.
func (p *Position) ComputeDerived() {
	sellCE := p.Legs[RoleSellCall].FillPrice
	sellPE := p.Legs[RoleSellPut].FillPrice
	buyCE := p.Legs[RoleBuyCall].FillPrice
	buyPE := p.Legs[RoleBuyPut].FillPrice

	p.TotalCredit = sellCE + sellPE - buyCE - buyPE
	p.HighAdjustment = float64(p.Strike) + adjustmentFactor*p.TotalCredit
	p.LowAdjustment = float64(p.Strike) - adjustmentFactor*p.TotalCredit
	p.HighStopLoss = stopLossFactor * sellCE
	p.LowStopLoss = stopLossFactor * sellPE
}

// TransitionStatus moves the position forward through its lifecycle. Reverse
// transitions are rejected so a Closed position can never reopen.
func (p *Position) TransitionStatus(to PositionStatus) error {
	if !to.Valid() {
		return fmt.Errorf("position %s: invalid status %q", p.ID, to)
	}
	if to.rank() <= p.Status.rank() {
		return fmt.Errorf("position %s: status cannot move from %s to %s", p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// AdvanceStopLoss moves the stop-loss state forward. The progression is
// monotonic; once AllExited is reached every further advance is rejected.
func (p *Position) AdvanceStopLoss(to StopLossState) error {
	if !p.StopLossState.canAdvance(to) {
		return fmt.Errorf("position %s: stop-loss state cannot move from %s to %s", p.ID, p.StopLossState, to)
	}
	p.StopLossState = to
	return nil
}

// ExitSide advances the stop-loss state after closing one option side,
// resolving to AllExited when the other side was already gone.
func (p *Position) ExitSide(opt OptionType) error {
	switch opt {
	case OptionCall:
		if p.StopLossState == StopLossPutExited {
			return p.AdvanceStopLoss(StopLossAllExited)
		}
		return p.AdvanceStopLoss(StopLossCallExited)
	case OptionPut:
		if p.StopLossState == StopLossCallExited {
			return p.AdvanceStopLoss(StopLossAllExited)
		}
		return p.AdvanceStopLoss(StopLossPutExited)
	default:
		return fmt.Errorf("position %s: unknown option side %q", p.ID, opt)
	}
}

// Touch refreshes the modification timestamp.
func (p *Position) Touch() {
	p.UpdatedAt = time.Now().UTC()
}
