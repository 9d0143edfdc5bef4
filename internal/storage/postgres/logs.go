package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/workfloww/fetchfloww/internal/storage"
)

// AppendLogs inserts entries in one statement. IDs and timestamps are
// filled in here so the returned rows are not needed.
func (p *PgSQL) AppendLogs(ctx context.Context, entries ...storage.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]PgLogEntry, len(entries))
	for i, entry := range entries {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		rows[i].FromDomain(entry)
	}

	if _, err := p.Builder.Insert(logsTable).Rows(rows).Executor().ExecContext(ctx); err != nil {
		return fmt.Errorf("could not store logs into pg: %w", err)
	}

	return nil
}

// Logs returns the user's entries newest first. Entries sharing a created_at
// come back in reverse insertion order via the seq column.
func (p *PgSQL) Logs(ctx context.Context, userID uuid.UUID, filter storage.LogFilter) ([]storage.LogEntry, error) {
	w := []goqu.Expression{goqu.I("user_id").Eq(userID)}
	if !filter.Before.IsZero() {
		w = append(w, goqu.I("created_at").Lte(filter.Before))
	}

	var rows []PgLogEntry
	if err := p.Builder.From(logsTable).
		Where(w...).
		Order(goqu.I("created_at").Desc(), goqu.I("seq").Desc()).
		Limit(uint(filter.EffectiveLimit())). //nolint: gosec
		ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("could not list logs from pg: %w", err)
	}

	out := make([]storage.LogEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}

	return out, nil
}
