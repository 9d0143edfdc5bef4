package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/workfloww/fetchfloww/internal/storage"
)

// Preferences implements storage.PreferencesStorage.
func (p *PgSQL) Preferences(ctx context.Context, userID uuid.UUID) (*storage.Preferences, error) {
	var row PgPreferences
	found, err := p.Builder.From(preferencesTable).
		Where(goqu.I("user_id").Eq(userID)).
		ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not get preferences from pg: %w", err)
	}
	if !found {
		return nil, storage.ErrNotFound
	}

	return row.ToDomain(), nil
}

// SavePreferences upserts the user's single preferences row.
func (p *PgSQL) SavePreferences(ctx context.Context, prefs storage.Preferences) (*storage.Preferences, error) {
	var in PgPreferences
	in.FromDomain(prefs)

	var row PgPreferences
	found, err := p.Builder.Insert(preferencesTable).
		Rows(in).
		OnConflict(goqu.DoUpdate("user_id", goqu.Record{
			"file_type":        goqu.L("EXCLUDED.file_type"),
			"file_name_filter": goqu.L("EXCLUDED.file_name_filter"),
			"date_from":        goqu.L("EXCLUDED.date_from"),
			"date_to":          goqu.L("EXCLUDED.date_to"),
			"gmail_folder":     goqu.L("EXCLUDED.gmail_folder"),
			"drive_folder_id":  goqu.L("EXCLUDED.drive_folder_id"),
			"updated_at":       goqu.L("CURRENT_TIMESTAMP"),
		})).
		Returning(&PgPreferences{}).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not save preferences in pg: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("could not save preferences in pg: no row returned")
	}

	return row.ToDomain(), nil
}
