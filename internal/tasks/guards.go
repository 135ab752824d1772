package tasks

import (
	"context"

	"commrelay/internal/types"
)

// Guard decides, at delivery time, whether a claimed task is still worth
// sending. A vetoed task is marked canceled, not failed; the condition it was
// reminding about no longer exists.
type Guard interface {
	ShouldSkip(ctx context.Context, task *types.Task) (skip bool, reason string, err error)
}

// GuardRegistry maps topics to guards. Topics without a guard are always
// delivered.
type GuardRegistry map[types.Topic]Guard

// For returns the guard for a topic, or nil.
func (g GuardRegistry) For(topic types.Topic) Guard {
	if g == nil {
		return nil
	}
	return g[topic]
}

// settlementChecker is the invoice lookup the payment guard needs.
type settlementChecker interface {
	IsSettled(ctx context.Context, jobKey string, paidStatuses []string) (bool, error)
}

// PaymentGuard skips payment reminders whose invoice was settled between
// scheduling and delivery. The paid-cancellation pass catches most of these;
// the guard closes the race where payment lands after the task was claimed.
type PaymentGuard struct {
	invoices     settlementChecker
	paidStatuses []string
}

// NewPaymentGuard creates a PaymentGuard over the invoice lookup.
func NewPaymentGuard(invoices settlementChecker, paidStatuses []string) *PaymentGuard {
	return &PaymentGuard{invoices: invoices, paidStatuses: paidStatuses}
}

// ShouldSkip reports true when the invoice behind the task's job key is paid.
func (g *PaymentGuard) ShouldSkip(ctx context.Context, task *types.Task) (bool, string, error) {
	settled, err := g.invoices.IsSettled(ctx, task.JobKey, g.paidStatuses)
	if err != nil {
		return false, "", err
	}
	if settled {
		return true, "invoice settled before delivery", nil
	}
	return false, "", nil
}

// CheckinLookup reports whether the attendee behind a job key already checked
// in at the venue.
type CheckinLookup interface {
	IsCheckedIn(ctx context.Context, jobKey string) (bool, error)
}

// EventGuard skips event reminders for attendees who already checked in.
// Without a lookup it never skips; check-in data lives in another system and
// is wired only where that system is reachable.
type EventGuard struct {
	checkins CheckinLookup
}

// NewEventGuard creates an EventGuard. A nil lookup delivers everything.
func NewEventGuard(checkins CheckinLookup) *EventGuard {
	return &EventGuard{checkins: checkins}
}

// ShouldSkip reports true when the attendee already checked in.
func (g *EventGuard) ShouldSkip(ctx context.Context, task *types.Task) (bool, string, error) {
	if g.checkins == nil {
		return false, "", nil
	}
	checkedIn, err := g.checkins.IsCheckedIn(ctx, task.JobKey)
	if err != nil {
		return false, "", err
	}
	if checkedIn {
		return true, "attendee already checked in", nil
	}
	return false, "", nil
}
