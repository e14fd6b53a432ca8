package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Every boundary crossing between the cold and hot record shapes is an
// explicit call through one of the functions below — never an implicit
// cast, and never a tagged union carrying "maybe decimal maybe float".

// CandleToFast converts a cold Candle to its hot-path form.
func CandleToFast(c Candle) FastCandle {
	return FastCandle{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Timestamp: float64(c.Timestamp.UnixMilli()) / 1000.0,
		Open:      toFloat(c.Open),
		High:      toFloat(c.High),
		Low:       toFloat(c.Low),
		Close:     toFloat(c.Close),
		Volume:    toFloat(c.Volume),
		IsClosed:  c.IsClosed,
	}
}

// FastToCandle converts a hot FastCandle back to its cold-path form.
func FastToCandle(c FastCandle) Candle {
	return Candle{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Timestamp: timeFromSeconds(c.Timestamp),
		Open:      toDecimal(c.Open),
		High:      toDecimal(c.High),
		Low:       toDecimal(c.Low),
		Close:     toDecimal(c.Close),
		Volume:    toDecimal(c.Volume),
		IsClosed:  c.IsClosed,
	}
}

// SignalToFast converts a cold Signal to its hot-path form.
func SignalToFast(s Signal) FastSignal {
	fs := FastSignal{
		ID:             s.ID,
		StrategyName:   s.StrategyName,
		Symbol:         s.Symbol,
		Timeframe:      s.Timeframe,
		SignalTime:     float64(s.SignalTime.UnixMilli()) / 1000.0,
		Direction:      s.Direction,
		EntryPrice:     toFloat(s.EntryPrice),
		TPPrice:        toFloat(s.TPPrice),
		SLPrice:        toFloat(s.SLPrice),
		ATRAtSignal:    toFloat(s.ATRAtSignal),
		MaxATR:         toFloat(s.MaxATR),
		StreakAtSignal: s.StreakAtSignal,
		MAERatio:       toFloat(s.MAERatio),
		MFERatio:       toFloat(s.MFERatio),
		Outcome:        s.Outcome,
	}
	if !s.OutcomeTime.IsZero() {
		fs.OutcomeTime = float64(s.OutcomeTime.UnixMilli()) / 1000.0
		fs.OutcomePrice = toFloat(s.OutcomePrice)
	}
	return fs
}

// FastToSignal converts a hot FastSignal back to its cold-path form.
func FastToSignal(fs FastSignal) Signal {
	s := Signal{
		ID:             fs.ID,
		StrategyName:   fs.StrategyName,
		Symbol:         fs.Symbol,
		Timeframe:      fs.Timeframe,
		SignalTime:     timeFromSeconds(fs.SignalTime),
		Direction:      fs.Direction,
		EntryPrice:     toDecimal(fs.EntryPrice),
		TPPrice:        toDecimal(fs.TPPrice),
		SLPrice:        toDecimal(fs.SLPrice),
		ATRAtSignal:    toDecimal(fs.ATRAtSignal),
		MaxATR:         toDecimal(fs.MaxATR),
		StreakAtSignal: fs.StreakAtSignal,
		MAERatio:       toDecimal(fs.MAERatio),
		MFERatio:       toDecimal(fs.MFERatio),
		Outcome:        fs.Outcome,
	}
	if fs.Outcome != OutcomeActive {
		s.OutcomeTime = timeFromSeconds(fs.OutcomeTime)
		s.OutcomePrice = toDecimal(fs.OutcomePrice)
	}
	return s
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func timeFromSeconds(secs float64) time.Time {
	return time.UnixMilli(int64(secs * 1000)).UTC()
}
