package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/workfloww/fetchfloww/internal/storage"
	"github.com/workfloww/fetchfloww/internal/storage/postgres"
)

var userColumns = []string{
	"id", "email", "name", "picture", "access_token", "refresh_token",
	"token_expiry", "created_at", "updated_at",
}

func setupMockDB(t *testing.T) (*postgres.PgSQL, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return postgres.NewWithDB(db, nil), mock
}

func TestPgSQL_UserByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := uuid.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM "users" WHERE \("id" = .+\) LIMIT 1`).
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(id.String(), "jane@example.com", "Jane", "", "enc-access", "enc-refresh", now, now, now))

		user, err := pg.UserByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, user.ID)
		require.Equal(t, "jane@example.com", user.Email)
		require.Equal(t, "enc-refresh", user.Tokens.RefreshToken)
		require.True(t, user.Tokens.Expiry.Equal(now))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM "users"`).
			WillReturnRows(sqlmock.NewRows(userColumns))

		_, err := pg.UserByID(ctx, id)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectQuery(`SELECT .+ FROM "users"`).WillReturnError(sql.ErrConnDone)

		_, err := pg.UserByID(ctx, id)
		require.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPgSQL_UpsertUser_RequiresEmail(t *testing.T) {
	t.Parallel()

	pg, mock := setupMockDB(t)

	_, err := pg.UpsertUser(context.Background(), storage.User{Email: "  "})
	require.ErrorIs(t, err, storage.ErrInvalidUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSQL_UpdateTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("keeps refresh token when empty", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectExec(`UPDATE "users" SET .*"access_token"=`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := pg.UpdateTokens(ctx, uuid.New(), storage.Tokens{AccessToken: "new", Expiry: time.Now()})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectExec(`UPDATE "users"`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := pg.UpdateTokens(ctx, uuid.New(), storage.Tokens{AccessToken: "new"})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestPgSQL_AppendLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty is a no-op", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		require.NoError(t, pg.AppendLogs(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inserts all rows in one statement", func(t *testing.T) {
		t.Parallel()

		pg, mock := setupMockDB(t)
		mock.ExpectExec(`INSERT INTO "logs" .+ VALUES \(.+\), \(.+\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))

		userID := uuid.New()
		err := pg.AppendLogs(ctx,
			storage.LogEntry{UserID: userID, FileName: "a.pdf", Status: storage.LogStatusSuccess},
			storage.LogEntry{UserID: userID, FileName: "b.pdf", Status: storage.LogStatusFailed},
		)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgSQL_Logs(t *testing.T) {
	t.Parallel()

	pg, mock := setupMockDB(t)
	ctx := context.Background()
	userID := uuid.New()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "user_id", "user_email", "file_name", "file_type", "status",
		"drive_file_id", "drive_link", "search_query", "created_at",
	}
	mock.ExpectQuery(`SELECT .+ FROM "logs" WHERE .+"created_at" <= .+ ORDER BY "created_at" DESC, "seq" DESC LIMIT 50`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.NewString(), userID.String(), "jane@example.com", "invoice.pdf", "pdf", "success",
				"drive-1", "https://drive.google.com/file/d/drive-1/view", "has:attachment", created))

	got, err := pg.Logs(ctx, userID, storage.LogFilter{Before: created.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "invoice.pdf", got[0].FileName)
	require.Equal(t, storage.LogStatusSuccess, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_UnknownCommand(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = postgres.Migrate(context.Background(), db, "sideways")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown migrate command")
}
