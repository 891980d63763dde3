package eventbus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
	"github.com/makit/aws-serverless-twitter-bot/pkg/logging"
)

// Archive stores every published event in Postgres, keyed by time window,
// so traffic can be replayed through the bus. Retention is enforced
// externally; Prune exists for the retention job.
type Archive struct {
	db     *sql.DB
	logger logging.Logger
}

// NewArchive creates an archive over the given connection.
func NewArchive(db *sql.DB, logger logging.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

// EnsureSchema creates the archive table if it does not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_archive (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			detail_type TEXT NOT NULL,
			bus_name    TEXT NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			detail      JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create event_archive table: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS event_archive_ts_idx ON event_archive (ts)`)
	if err != nil {
		return fmt.Errorf("create event_archive ts index: %w", err)
	}
	return nil
}

// Store persists one event. Storing the same id twice is a no-op, so
// at-least-once republish never duplicates archive rows.
func (a *Archive) Store(ctx context.Context, evt events.Event) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO event_archive (id, source, detail_type, bus_name, ts, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		evt.ID, evt.Source, string(evt.DetailType), evt.BusName, evt.Timestamp, []byte(evt.Detail))
	if err != nil {
		return fmt.Errorf("store event %s: %w", evt.ID, err)
	}
	return nil
}

// Replay republishes every archived event in [from, to) through the given
// publish function, oldest first. Delivery remains at-least-once: targets
// will see replayed events again with their original ids.
func (a *Archive) Replay(ctx context.Context, from, to time.Time, publish func(ctx context.Context, evt events.Event) error) (int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, source, detail_type, bus_name, ts, detail
		FROM event_archive
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts ASC`,
		from, to)
	if err != nil {
		return 0, fmt.Errorf("query archive window: %w", err)
	}
	defer rows.Close()

	replayed := 0
	for rows.Next() {
		var evt events.Event
		var detailType string
		var detail []byte
		if err := rows.Scan(&evt.ID, &evt.Source, &detailType, &evt.BusName, &evt.Timestamp, &detail); err != nil {
			return replayed, fmt.Errorf("scan archived event: %w", err)
		}
		evt.DetailType = events.DetailType(detailType)
		evt.Detail = detail

		if err := publish(ctx, evt); err != nil {
			a.logger.WithError(err).WithField("event_id", evt.ID).Error("Failed to replay event")
			continue
		}
		replayed++
	}

	if err := rows.Err(); err != nil {
		return replayed, fmt.Errorf("iterate archive window: %w", err)
	}
	return replayed, nil
}

// Prune deletes archived events older than the cutoff and returns the
// number of rows removed.
func (a *Archive) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM event_archive WHERE ts < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return res.RowsAffected()
}
