package postgres

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/workfloww/fetchfloww/internal/storage"
)

type PgUser struct {
	ID           uuid.UUID    `db:"id"`
	Email        string       `db:"email"`
	Name         string       `db:"name"`
	Picture      string       `db:"picture"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenExpiry  sql.NullTime `db:"token_expiry"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (p *PgUser) ToDomain() *storage.User {
	return &storage.User{
		ID:      p.ID,
		Email:   p.Email,
		Name:    p.Name,
		Picture: p.Picture,
		Tokens: storage.Tokens{
			AccessToken:  p.AccessToken,
			RefreshToken: p.RefreshToken,
			Expiry:       p.TokenExpiry.Time,
		},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type PgPreferences struct {
	UserID         uuid.UUID    `db:"user_id"`
	FileType       string       `db:"file_type"`
	FileNameFilter string       `db:"file_name_filter"`
	DateFrom       time.Time    `db:"date_from"`
	DateTo         sql.NullTime `db:"date_to"`
	GmailFolder    string       `db:"gmail_folder"`
	DriveFolderID  string       `db:"drive_folder_id"`
	UpdatedAt      time.Time    `db:"updated_at" goqu:"skipinsert,skipupdate"`
}

func (p *PgPreferences) ToDomain() *storage.Preferences {
	return &storage.Preferences{
		UserID:         p.UserID,
		FileType:       storage.FileType(p.FileType),
		FileNameFilter: p.FileNameFilter,
		DateFrom:       p.DateFrom,
		DateTo:         p.DateTo.Time,
		GmailFolder:    p.GmailFolder,
		DriveFolderID:  p.DriveFolderID,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (p *PgPreferences) FromDomain(prefs storage.Preferences) {
	*p = PgPreferences{
		UserID:         prefs.UserID,
		FileType:       string(prefs.FileType),
		FileNameFilter: prefs.FileNameFilter,
		DateFrom:       prefs.DateFrom,
		DateTo: sql.NullTime{
			Time:  prefs.DateTo,
			Valid: !prefs.DateTo.IsZero(),
		},
		GmailFolder:   prefs.GmailFolder,
		DriveFolderID: prefs.DriveFolderID,
	}
}

type PgLogEntry struct {
	ID          uuid.UUID `db:"id"`
	UserID      uuid.UUID `db:"user_id"`
	UserEmail   string    `db:"user_email"`
	FileName    string    `db:"file_name"`
	FileType    string    `db:"file_type"`
	Status      string    `db:"status"`
	DriveFileID string    `db:"drive_file_id"`
	DriveLink   string    `db:"drive_link"`
	SearchQuery string    `db:"search_query"`
	CreatedAt   time.Time `db:"created_at"`
}

func (p *PgLogEntry) ToDomain() storage.LogEntry {
	return storage.LogEntry{
		ID:          p.ID,
		UserID:      p.UserID,
		UserEmail:   p.UserEmail,
		FileName:    p.FileName,
		FileType:    p.FileType,
		Status:      storage.LogStatus(p.Status),
		DriveFileID: p.DriveFileID,
		DriveLink:   p.DriveLink,
		SearchQuery: p.SearchQuery,
		CreatedAt:   p.CreatedAt,
	}
}

func (p *PgLogEntry) FromDomain(entry storage.LogEntry) {
	*p = PgLogEntry{
		ID:          entry.ID,
		UserID:      entry.UserID,
		UserEmail:   entry.UserEmail,
		FileName:    entry.FileName,
		FileType:    entry.FileType,
		Status:      string(entry.Status),
		DriveFileID: entry.DriveFileID,
		DriveLink:   entry.DriveLink,
		SearchQuery: entry.SearchQuery,
		CreatedAt:   entry.CreatedAt,
	}
}
