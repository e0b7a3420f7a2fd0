package eventlog

import "github.com/unclebandit/followup-engine/internal/model"

// History pairs a delivery with its events for batch derivation.
type History struct {
	Delivery model.Delivery
	Events   []model.Event
}

// Summarize counts derived statuses across deliveries. Every status key is
// present, plus "total".
func Summarize(histories []History) map[string]int {
	stats := map[string]int{
		"total":                          0,
		string(model.StatusSent):         0,
		string(model.StatusDelivered):    0,
		string(model.StatusOpened):       0,
		string(model.StatusClicked):      0,
		string(model.StatusBounced):      0,
		string(model.StatusComplained):   0,
		string(model.StatusUnsubscribed): 0,
		string(model.StatusFailed):       0,
	}
	for _, h := range histories {
		stats[string(Derive(h.Delivery.Outcome, h.Events))]++
		stats["total"]++
	}
	return stats
}

// GroupByDelivery buckets a flat event list by delivery id.
func GroupByDelivery(events []model.Event) map[string][]model.Event {
	out := make(map[string][]model.Event)
	for _, e := range events {
		out[e.DeliveryID] = append(out[e.DeliveryID], e)
	}
	return out
}
