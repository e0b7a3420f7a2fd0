// Package eventlog derives delivery state from the append-only event history.
//
// Status is never stored. Every read folds the full history for a delivery:
//
//   - a failed dispatch stays failed;
//   - the first terminal event in append order (bounced, complained,
//     unsubscribed) fixes the status for good;
//   - otherwise the highest ranked of sent < delivered < opened < clicked wins.
//
// The fold only looks at set membership and append order, so duplicated or
// reordered callbacks cannot move a delivery backwards.
package eventlog

import (
	"sort"

	"github.com/unclebandit/followup-engine/internal/model"
)

var rank = map[model.EventType]int{
	model.EventSent:      0,
	model.EventDelivered: 1,
	model.EventOpened:    2,
	model.EventClicked:   3,
}

// Rank returns the ladder position of a non-terminal event type, or -1.
func Rank(t model.EventType) int {
	if r, ok := rank[t]; ok {
		return r
	}
	return -1
}

// Derive computes the current status of a delivery from its dispatch outcome
// and event history. events may be in any order.
func Derive(outcome model.DispatchOutcome, events []model.Event) model.DeliveryStatus {
	if outcome == model.OutcomeFailed {
		return model.StatusFailed
	}

	var (
		terminal    *model.Event
		best        = model.EventSent
		hasTerminal bool
	)
	for i := range events {
		e := &events[i]
		if e.Type.Terminal() {
			if !hasTerminal || before(e, terminal) {
				terminal = e
				hasTerminal = true
			}
			continue
		}
		if r := Rank(e.Type); r > rank[best] {
			best = e.Type
		}
	}
	if hasTerminal {
		return model.DeliveryStatus(terminal.Type)
	}
	return model.DeliveryStatus(best)
}

// before orders events by append sequence, falling back to provider time and
// id for events that have not been persisted yet.
func before(a, b *model.Event) bool {
	if a.Seq != b.Seq && a.Seq > 0 && b.Seq > 0 {
		return a.Seq < b.Seq
	}
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}

// Order sorts events the way the log returns them: append order first.
func Order(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return before(&events[i], &events[j])
	})
}

// Terminal reports whether status can never change again.
func Terminal(status model.DeliveryStatus) bool {
	switch status {
	case model.StatusBounced, model.StatusComplained, model.StatusUnsubscribed, model.StatusFailed:
		return true
	}
	return false
}
