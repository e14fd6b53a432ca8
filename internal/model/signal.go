package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side a signal was opened on.
type Direction int

const (
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

func (d Direction) String() string {
	if d == DirectionLong {
		return "LONG"
	}
	return "SHORT"
}

// Outcome is the resolution state of a signal.
type Outcome string

const (
	OutcomeActive Outcome = "active"
	OutcomeTP     Outcome = "tp"
	OutcomeSL     Outcome = "sl"
)

// NewSignalID generates a 128-bit unique signal identifier.
func NewSignalID() string {
	return uuid.NewString()
}

// Signal is the cold-path (exact decimal) record for a single trading
// signal, as persisted by the signal store and returned across the
// core's external boundary.
//
// Invariant: while Outcome == OutcomeActive, OutcomeTime and OutcomePrice
// are zero. Once Outcome != OutcomeActive, no field changes again.
type Signal struct {
	ID             string          `json:"id"`
	StrategyName   string          `json:"strategy_name"`
	Symbol         string          `json:"symbol"`
	Timeframe      Timeframe       `json:"timeframe"`
	SignalTime     time.Time       `json:"signal_time"`
	Direction      Direction       `json:"direction"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	TPPrice        decimal.Decimal `json:"tp_price"`
	SLPrice        decimal.Decimal `json:"sl_price"`
	ATRAtSignal    decimal.Decimal `json:"atr_at_signal"`
	MaxATR         decimal.Decimal `json:"max_atr"`
	StreakAtSignal int             `json:"streak_at_signal"`
	MAERatio       decimal.Decimal `json:"mae_ratio"`
	MFERatio       decimal.Decimal `json:"mfe_ratio"`
	Outcome        Outcome         `json:"outcome"`
	OutcomeTime    time.Time       `json:"outcome_time,omitempty"`
	OutcomePrice   decimal.Decimal `json:"outcome_price,omitempty"`
}

// RiskAmount is the planned loss distance: |entry - sl|.
func (s *Signal) RiskAmount() decimal.Decimal {
	return s.EntryPrice.Sub(s.SLPrice).Abs()
}

// RewardAmount is the planned gain distance: |tp - entry|.
func (s *Signal) RewardAmount() decimal.Decimal {
	return s.TPPrice.Sub(s.EntryPrice).Abs()
}

// IsActive reports whether the signal has not yet resolved.
func (s *Signal) IsActive() bool { return s.Outcome == OutcomeActive }

// FastSignal is the hot-path record the position tracker mutates on
// every trade. Converted to/from Signal at persistence and callback
// boundaries (see conv.go).
type FastSignal struct {
	ID             string
	StrategyName   string
	Symbol         string
	Timeframe      Timeframe
	SignalTime     float64 // unix seconds
	Direction      Direction
	EntryPrice     float64
	TPPrice        float64
	SLPrice        float64
	ATRAtSignal    float64
	MaxATR         float64
	StreakAtSignal int
	MAERatio       float64
	MFERatio       float64
	Outcome        Outcome
	OutcomeTime    float64
	OutcomePrice   float64
}

// RiskAmount is the planned loss distance: |entry - sl|.
func (s *FastSignal) RiskAmount() float64 {
	return absF(s.EntryPrice - s.SLPrice)
}

// RewardAmount is the planned gain distance: |tp - entry|.
func (s *FastSignal) RewardAmount() float64 {
	return absF(s.TPPrice - s.EntryPrice)
}

// IsActive reports whether the signal has not yet resolved.
func (s *FastSignal) IsActive() bool { return s.Outcome == OutcomeActive }

// UpdateExcursion folds one more price observation into MAERatio/MFERatio.
// Both ratios are clipped below at 0 and are monotonically non-decreasing
// for the lifetime of the signal — callers must not invoke this once the
// signal has resolved.
func (s *FastSignal) UpdateExcursion(price float64) {
	risk := s.RiskAmount()
	if risk <= 0 {
		return
	}

	var adverse, favorable float64
	if s.Direction == DirectionLong {
		adverse = s.EntryPrice - price
		favorable = price - s.EntryPrice
	} else {
		adverse = price - s.EntryPrice
		favorable = s.EntryPrice - price
	}

	if adverse > 0 {
		if ratio := adverse / risk; ratio > s.MAERatio {
			s.MAERatio = ratio
		}
	}
	if favorable > 0 {
		if ratio := favorable / risk; ratio > s.MFERatio {
			s.MFERatio = ratio
		}
	}
}

// CheckOutcomeTick evaluates TP/SL resolution against a single price
// observation (the live, tick-driven path — a single tick cannot satisfy
// both conditions, so there is no pessimistic tie-break here).
// Returns true and mutates Outcome/OutcomeTime/OutcomePrice if resolved.
func (s *FastSignal) CheckOutcomeTick(price, ts float64) bool {
	if !s.IsActive() {
		return false
	}

	var hitTP, hitSL bool
	if s.Direction == DirectionLong {
		hitTP = price >= s.TPPrice
		hitSL = price <= s.SLPrice
	} else {
		hitTP = price <= s.TPPrice
		hitSL = price >= s.SLPrice
	}

	switch {
	case hitTP:
		s.resolve(OutcomeTP, price, ts)
		return true
	case hitSL:
		s.resolve(OutcomeSL, price, ts)
		return true
	}
	return false
}

// CheckOutcomeKline evaluates TP/SL resolution against a candle's
// high/low range (the backtest/kline-driven path). If the candle's range
// would satisfy both the TP and SL condition, the pessimistic rule
// applies: resolve as SL.
func (s *FastSignal) CheckOutcomeKline(high, low, ts float64) bool {
	if !s.IsActive() {
		return false
	}

	var hitTP, hitSL bool
	var tpPrice, slPrice float64
	if s.Direction == DirectionLong {
		hitTP = high >= s.TPPrice
		hitSL = low <= s.SLPrice
		tpPrice, slPrice = s.TPPrice, s.SLPrice
	} else {
		hitTP = low <= s.TPPrice
		hitSL = high >= s.SLPrice
		tpPrice, slPrice = s.TPPrice, s.SLPrice
	}

	switch {
	case hitTP && hitSL:
		s.resolve(OutcomeSL, slPrice, ts)
		return true
	case hitSL:
		s.resolve(OutcomeSL, slPrice, ts)
		return true
	case hitTP:
		s.resolve(OutcomeTP, tpPrice, ts)
		return true
	}
	return false
}

func (s *FastSignal) resolve(outcome Outcome, price, ts float64) {
	s.Outcome = outcome
	s.OutcomePrice = price
	s.OutcomeTime = ts
}

// UpdateMaxATR raises MaxATR if the observed ATR is higher than recorded.
func (s *FastSignal) UpdateMaxATR(atr float64) {
	if atr > s.MaxATR {
		s.MaxATR = atr
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
