package main

import (
	"context"
	"fmt"

	"github.com/unclebandit/followup-engine/internal/app"
	"github.com/unclebandit/followup-engine/internal/generator"
	"github.com/unclebandit/followup-engine/internal/model"
)

type seedSummary struct {
	SenderID    int64
	SequenceID  int64
	ProspectIDs []int64
	Messages    int
}

func intPtr(n int) *int { return &n }

var demoProspects = []model.Prospect{
	{FirstName: "Sarah", Email: "sarah@example.com", Phone: "+14155550101", Segment: "hot", WatchPct: intPtr(92), MinutesWatched: intPtr(55),
		ChallengeNotes: "struggles to price coaching packages", GoalNotes: "first 10k month"},
	{FirstName: "Omar", Email: "omar@example.com", Segment: "warm", WatchPct: intPtr(48), MinutesWatched: intPtr(29)},
	{FirstName: "Lena", Phone: "+447700900123", Segment: "cold", WatchPct: intPtr(8), MinutesWatched: intPtr(5)},
}

// seedDemo creates one sender with a generated three-segment sequence and a
// prospect per segment.
func seedDemo(ctx context.Context, repos *app.Repositories, gen *generator.Generator, principal string) (*seedSummary, error) {
	if principal == "" {
		return nil, fmt.Errorf("principal is required")
	}
	sender := &model.SenderConfig{
		PrincipalID: principal,
		Name:        "Coach Kim",
		FromEmail:   "kim@example.com",
		FromPhone:   "+14155550100",
	}
	if err := repos.Senders.Create(ctx, sender); err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}

	gc := model.GenerationContext{
		Count:         6,
		DeadlineHours: 72,
		Segments:      []string{"hot", "warm", "cold"},
		Offer: model.Offer{
			Name:      "Scale Academy",
			Price:     997,
			Bonuses:   []string{"Pricing workshop", "Private community"},
			Guarantee: "30-day money back",
		},
		Webinar: model.Webinar{Title: "From Side Hustle to 10k Months"},
	}
	seq := &model.Sequence{
		SenderConfigID: sender.ID,
		Name:           "Replay follow-up",
		Segments:       gc.Segments,
		DeadlineHours:  gc.DeadlineHours,
		OfferLink:      "https://example.com/scale",
		ReplayLink:     "https://example.com/replay",
		BookingLink:    "https://example.com/book",
	}
	if err := repos.Sequences.Create(ctx, seq); err != nil {
		return nil, fmt.Errorf("create sequence: %w", err)
	}

	result, err := gen.Generate(ctx, seq.ID, gc)
	if err != nil {
		return nil, fmt.Errorf("generate sequence: %w", err)
	}

	summary := &seedSummary{SenderID: sender.ID, SequenceID: seq.ID, Messages: len(result.Messages)}
	for _, p := range demoProspects {
		p.SenderConfigID = sender.ID
		if err := repos.Prospects.Create(ctx, &p); err != nil {
			return nil, fmt.Errorf("create prospect %s: %w", p.FirstName, err)
		}
		summary.ProspectIDs = append(summary.ProspectIDs, p.ID)
	}
	return summary, nil
}
