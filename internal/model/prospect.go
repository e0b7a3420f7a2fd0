package model

import "time"

// Prospect is a message recipient. Unsubscribed only ever moves from false to true.
type Prospect struct {
	ID             int64      `db:"id" json:"id"`
	SenderConfigID int64      `db:"sender_config_id" json:"sender_config_id"`
	Email          string     `db:"email" json:"email,omitempty"`
	Phone          string     `db:"phone" json:"phone,omitempty"`
	FirstName      string     `db:"first_name" json:"first_name"`
	Segment        string     `db:"segment" json:"segment"`
	WatchPct       *int       `db:"watch_pct" json:"watch_pct,omitempty"`
	MinutesWatched *int       `db:"minutes_watched" json:"minutes_watched,omitempty"`
	ChallengeNotes string     `db:"challenge_notes" json:"challenge_notes,omitempty"`
	GoalNotes      string     `db:"goal_notes" json:"goal_notes,omitempty"`
	Unsubscribed   bool       `db:"unsubscribed" json:"unsubscribed"`
	UnsubscribedAt *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Destination returns the address used for the given channel.
func (p *Prospect) Destination(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.Phone
	}
	return ""
}
