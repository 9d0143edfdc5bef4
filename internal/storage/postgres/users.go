package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/workfloww/fetchfloww/internal/storage"
)

func nullTime(tokens storage.Tokens) sql.NullTime {
	return sql.NullTime{Time: tokens.Expiry, Valid: !tokens.Expiry.IsZero()}
}

// UpsertUser inserts or updates by email. An empty refresh token keeps the
// stored one, since Google only returns it on the first consent.
func (p *PgSQL) UpsertUser(ctx context.Context, user storage.User) (*storage.User, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" {
		return nil, storage.ErrInvalidUser
	}

	var row PgUser
	found, err := p.Builder.Insert(usersTable).
		Rows(goqu.Record{
			"email":         email,
			"name":          user.Name,
			"picture":       user.Picture,
			"access_token":  user.Tokens.AccessToken,
			"refresh_token": user.Tokens.RefreshToken,
			"token_expiry":  nullTime(user.Tokens),
		}).
		OnConflict(goqu.DoUpdate("email", goqu.Record{
			"name":          goqu.L("EXCLUDED.name"),
			"picture":       goqu.L("EXCLUDED.picture"),
			"access_token":  goqu.L("EXCLUDED.access_token"),
			"refresh_token": goqu.L("COALESCE(NULLIF(EXCLUDED.refresh_token, ''), users.refresh_token)"),
			"token_expiry":  goqu.L("EXCLUDED.token_expiry"),
			"updated_at":    goqu.L("CURRENT_TIMESTAMP"),
		})).
		Returning(&PgUser{}).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not upsert user in pg: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("could not upsert user in pg: no row returned")
	}

	return row.ToDomain(), nil
}

func (p *PgSQL) userWhere(ctx context.Context, where goqu.Expression) (*storage.User, error) {
	var row PgUser
	found, err := p.Builder.From(usersTable).Where(where).Limit(1).
		ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("could not get user from pg: %w", err)
	}
	if !found {
		return nil, storage.ErrNotFound
	}

	return row.ToDomain(), nil
}

// UserByID implements storage.UserStorage.
func (p *PgSQL) UserByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	return p.userWhere(ctx, goqu.I("id").Eq(id))
}

// UserByEmail implements storage.UserStorage.
func (p *PgSQL) UserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return p.userWhere(ctx, goqu.I("email").Eq(strings.ToLower(strings.TrimSpace(email))))
}

// UpdateTokens implements storage.UserStorage.
func (p *PgSQL) UpdateTokens(ctx context.Context, id uuid.UUID, tokens storage.Tokens) error {
	rec := goqu.Record{
		"access_token": tokens.AccessToken,
		"token_expiry": nullTime(tokens),
		"updated_at":   goqu.L("CURRENT_TIMESTAMP"),
	}
	if tokens.RefreshToken != "" {
		rec["refresh_token"] = tokens.RefreshToken
	}

	res, err := p.Builder.Update(usersTable).Set(rec).
		Where(goqu.I("id").Eq(id)).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("could not update user tokens in pg: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}

	return nil
}
