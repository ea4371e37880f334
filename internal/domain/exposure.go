package domain

import "time"

// ExposureEntry tracks net position and PnL for one asset. Entries are
// created on first exposure and never deleted; zero-balance entries persist
// for audit.
type ExposureEntry struct {
	Asset           string
	NetPosition     float64 // signed, in asset units
	UnrealizedValue float64 // mark-to-market value in quote units
	RealizedPnL     float64 // realized PnL to date in quote units
	UpdatedAt       time.Time
}

// LedgerView is a consistent read-only snapshot of the exposure ledger taken
// under its lock, handed to the risk manager for evaluation. Reserved amounts
// from in-flight plans are already folded into Exposure.
type LedgerView struct {
	Entries          map[string]ExposureEntry
	Reserved         map[string]float64 // in-flight dispatch reservations per asset
	PortfolioValue   float64            // total absolute exposure in quote units
	DailyRealizedPnL float64            // realized PnL since UTC midnight
	TradesInWindow   int                // settled trades inside the trailing window
	AsOf             time.Time
}

// Exposure returns the committed plus reserved exposure for an asset in
// quote units, the quantity risk checks compare against limits.
func (v LedgerView) Exposure(asset string) float64 {
	var exp float64
	if e, ok := v.Entries[asset]; ok {
		exp = e.UnrealizedValue
		if exp < 0 {
			exp = -exp
		}
	}
	return exp + v.Reserved[asset]
}
