package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		values   map[string]string
		want     string
	}{
		{
			name:     "known tokens",
			template: "Hi {first_name}, you watched {watch_pct}%",
			values:   map[string]string{"first_name": "Sarah", "watch_pct": "75"},
			want:     "Hi Sarah, you watched 75%",
		},
		{
			name:     "unknown token survives",
			template: "Hi {first_name} {unknown_token}",
			values:   map[string]string{"first_name": "Sarah"},
			want:     "Hi Sarah {unknown_token}",
		},
		{
			name:     "known token without value survives",
			template: "Book here: {booking_link}",
			values:   map[string]string{"first_name": "Sarah"},
			want:     "Book here: {booking_link}",
		},
		{
			name:     "every occurrence replaced",
			template: "{sender_name} here. Reply to {sender_name}.",
			values:   map[string]string{"sender_name": "Ana"},
			want:     "Ana here. Reply to Ana.",
		},
		{
			name:     "values outside vocabulary ignored",
			template: "{custom}",
			values:   map[string]string{"custom": "x"},
			want:     "{custom}",
		},
		{
			name:     "value containing a token is not re-expanded",
			template: "{first_name} / {offer_title}",
			values:   map[string]string{"first_name": "{offer_title}", "offer_title": "Course"},
			want:     "{offer_title} / Course",
		},
		{
			name:     "empty template",
			template: "",
			values:   map[string]string{"first_name": "Sarah"},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, tt.values))
		})
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{first_name} {minutes} {first_name} {nope}")
	assert.Equal(t, []string{"first_name", "minutes", "nope"}, got)
	assert.Empty(t, Placeholders("no tokens"))
}

func TestKnown(t *testing.T) {
	for _, tok := range Vocabulary {
		assert.True(t, Known(tok), tok)
	}
	assert.False(t, Known("last_name"))
}
