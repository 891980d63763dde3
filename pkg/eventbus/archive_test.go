package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

func TestArchiveStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	archive := NewArchive(db, logging.NewLogger())

	evt := events.Event{
		ID:         "evt-1",
		Source:     events.SourceTwitter,
		DetailType: events.MessageReceived,
		BusName:    "Plumbing",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Detail:     json.RawMessage(`{"Text":"hi"}`),
	}

	mock.ExpectExec("INSERT INTO event_archive").
		WithArgs(evt.ID, evt.Source, string(evt.DetailType), evt.BusName, evt.Timestamp, []byte(evt.Detail)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := archive.Store(context.Background(), evt); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveReplayWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	archive := NewArchive(db, logging.NewLogger())

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "source", "detail_type", "bus_name", "ts", "detail"}).
		AddRow("evt-1", "TWITTER", "MESSAGE_RECEIVED", "Plumbing", from.Add(time.Hour), []byte(`{"Text":"a"}`)).
		AddRow("evt-2", "BOT", "SEND_TWEET", "Plumbing", from.Add(2*time.Hour), []byte(`{"Text":"b"}`))

	mock.ExpectQuery("SELECT id, source, detail_type, bus_name, ts, detail").
		WithArgs(from, to).
		WillReturnRows(rows)

	var replayed []events.Event
	count, err := archive.Replay(context.Background(), from, to, func(_ context.Context, evt events.Event) error {
		replayed = append(replayed, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 2 {
		t.Fatalf("replayed = %d, want 2", count)
	}
	if replayed[0].ID != "evt-1" || replayed[1].ID != "evt-2" {
		t.Fatalf("unexpected replay order: %s, %s", replayed[0].ID, replayed[1].ID)
	}
	if replayed[1].DetailType != events.SendTweet {
		t.Fatalf("detail type = %s, want SEND_TWEET", replayed[1].DetailType)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchivePrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	archive := NewArchive(db, logging.NewLogger())
	cutoff := time.Date(2024, 4, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM event_archive").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	removed, err := archive.Prune(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 42 {
		t.Fatalf("removed = %d, want 42", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
