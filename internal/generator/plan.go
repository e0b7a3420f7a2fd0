package generator

import (
	"math"

	"github.com/unclebandit/followup-engine/internal/model"
)

const (
	TemplateReminder   = "reminder"
	TemplateValue      = "value"
	TemplateUrgency    = "urgency"
	TemplateLastChance = "last_chance"

	// DefaultSegment is used when a sequence targets no named segment.
	DefaultSegment = "all"
)

// TemplateTypes is the rotation used when planning slots.
var TemplateTypes = []string{TemplateReminder, TemplateValue, TemplateUrgency, TemplateLastChance}

func KnownTemplateType(t string) bool {
	for _, known := range TemplateTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Slot is the fixed shape of one message before its content is generated.
type Slot struct {
	Position     int           `json:"order"`
	Channel      model.Channel `json:"channel"`
	DelayMinutes int           `json:"delay_minutes"`
	TemplateType string        `json:"template_type"`
	Segment      string        `json:"segment"`
	Variant      string        `json:"variant,omitempty"`
}

// Plan lays out gc.Count slots spread evenly over the deadline window. The
// first slot goes out immediately and the last one at the deadline, which is
// always a last_chance message and goes by SMS once the sequence has at least
// three steps. Segments rotate, and a segment that appears more than once
// alternates between variants A and B.
func Plan(gc model.GenerationContext) []Slot {
	n := gc.Count
	if n <= 0 {
		return nil
	}
	segments := gc.Segments
	if len(segments) == 0 {
		segments = []string{DefaultSegment}
	}

	totals := make(map[string]int)
	for k := 0; k < n; k++ {
		totals[segments[k%len(segments)]]++
	}

	deadline := float64(gc.DeadlineHours * 60)
	seen := make(map[string]int)
	slots := make([]Slot, 0, n)
	for k := 1; k <= n; k++ {
		s := Slot{
			Position:     k,
			Channel:      model.ChannelEmail,
			TemplateType: TemplateTypes[(k-1)%len(TemplateTypes)],
			Segment:      segments[(k-1)%len(segments)],
		}
		if n > 1 {
			s.DelayMinutes = int(math.Round(deadline * float64(k-1) / float64(n-1)))
		}
		if k == n {
			s.TemplateType = TemplateLastChance
			if n >= 3 {
				s.Channel = model.ChannelSMS
			}
		}
		if totals[s.Segment] > 1 {
			if seen[s.Segment]%2 == 0 {
				s.Variant = "A"
			} else {
				s.Variant = "B"
			}
		}
		seen[s.Segment]++
		slots = append(slots, s)
	}
	return slots
}
