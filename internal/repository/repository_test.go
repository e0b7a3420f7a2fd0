package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/followup-engine/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "followup.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("testdata", "schema_sqlite.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

type fixture struct {
	sender   *model.SenderConfig
	sequence *model.Sequence
	prospect *model.Prospect
}

func seedFixture(t *testing.T, db *sql.DB, principal string) fixture {
	t.Helper()
	ctx := context.Background()

	sender := &model.SenderConfig{PrincipalID: principal, Name: "Coach Kim", FromEmail: "kim@example.com", FromPhone: "+447400000000"}
	require.NoError(t, (&SenderRepository{DB: db}).Create(ctx, sender))

	seq := &model.Sequence{SenderConfigID: sender.ID, Name: "Replay follow-up", Segments: []string{"hot", "warm"}, DeadlineHours: 48}
	require.NoError(t, (&SequenceRepository{DB: db}).Create(ctx, seq))

	prospect := &model.Prospect{SenderConfigID: sender.ID, Email: "sarah@example.com", FirstName: "Sarah", Segment: "hot"}
	require.NoError(t, (&ProspectRepository{DB: db}).Create(ctx, prospect))

	return fixture{sender: sender, sequence: seq, prospect: prospect}
}

func insertMessage(t *testing.T, db *sql.DB, sequenceID int64, position int) *model.MessageTemplate {
	t.Helper()
	m := &model.MessageTemplate{
		SequenceID:   sequenceID,
		Position:     position,
		Channel:      model.ChannelEmail,
		Subject:      "Subject",
		Body:         "Hi {first_name}",
		TemplateType: "reminder",
		Segment:      "hot",
	}
	require.NoError(t, (&MessageRepository{DB: db}).Upsert(context.Background(), m))
	return m
}
