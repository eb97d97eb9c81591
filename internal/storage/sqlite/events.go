package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gateway "github.com/eugener/predictgw/internal"
)

// InsertEvents batch-inserts telemetry events.
func (s *Store) InsertEvents(ctx context.Context, events []gateway.Event) error {
	if len(events) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 6
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		attrs := []byte("{}")
		if len(e.Attrs) > 0 {
			b, err := json.Marshal(e.Attrs)
			if err != nil {
				return err
			}
			attrs = b
		}
		placeholders[i] = "(?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.Level, e.Message, string(attrs), e.RequestID,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
	}

	query := `INSERT INTO events (id, level, message, attrs, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]gateway.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, level, message, attrs, request_id, created_at
		 FROM events ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.Event
	for rows.Next() {
		var e gateway.Event
		var attrs, createdAt string
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &attrs, &e.RequestID, &createdAt); err != nil {
			return nil, err
		}
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &e.Attrs); err != nil {
				return nil, err
			}
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
