// Package tasks implements the processing pipeline for claimed notification
// tasks: guard checks, template resolution, rendering, transport dispatch,
// terminal bookkeeping, and payment reminder chaining.
package tasks

import (
	"time"
)

// Stage is one step of the payment reminder sequence. Offset is subtracted
// from the invoice expiry to obtain the stage's delivery instant; the final
// stage fires at the expiry itself.
type Stage struct {
	Code   string
	Offset time.Duration
}

// PaymentFlow is the ordered reminder sequence for unpaid invoices. Each
// completed stage chains the next one under the same job key, so a paid
// invoice cancels every remaining stage with a single key match.
var PaymentFlow = []Stage{
	{Code: "pay_12h", Offset: 12 * time.Hour},
	{Code: "pay_3h", Offset: 3 * time.Hour},
	{Code: "pay_60mins", Offset: 60 * time.Minute},
	{Code: "pay_expired", Offset: 0},
}

// NextStage returns the stage following the given code, or false when the
// code is the last stage or not part of the flow.
func NextStage(code string) (Stage, bool) {
	for i, s := range PaymentFlow {
		if s.Code == code {
			if i+1 < len(PaymentFlow) {
				return PaymentFlow[i+1], true
			}
			return Stage{}, false
		}
	}
	return Stage{}, false
}

// FirstStage selects the earliest stage still deliverable for an invoice
// expiring at expiry, evaluated at now. A stage is deliverable while now is
// at or before its delivery instant; the expiry stage is deliverable until
// the expiry itself. Returns false when the invoice is already past expiry.
//
// Boundaries are inclusive: at exactly expiry-12h the 12-hour stage is still
// chosen.
func FirstStage(expiry, now time.Time) (Stage, bool) {
	for _, s := range PaymentFlow {
		at := expiry.Add(-s.Offset)
		if s.Offset == 0 {
			if now.Before(expiry) {
				return s, true
			}
			return Stage{}, false
		}
		if !now.After(at) {
			return s, true
		}
	}
	return Stage{}, false
}

// StageTime returns the delivery instant of a stage for the given expiry.
func (s Stage) StageTime(expiry time.Time) time.Time {
	return expiry.Add(-s.Offset)
}
