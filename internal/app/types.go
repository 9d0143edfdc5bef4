package app

import (
	"errors"
	"strings"
	"time"

	"github.com/workfloww/fetchfloww/internal/gmail"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// maxFileNameFilter bounds the saved file name filter.
const maxFileNameFilter = 255

// PreferencesRequest is the body of POST /api/preferences.
type PreferencesRequest struct {
	FileType       string `json:"fileType"`
	FileNameFilter string `json:"fileNameFilter"`
	DateFrom       string `json:"dateFrom"`
	DateTo         string `json:"dateTo"`
	GmailFolder    string `json:"gmailFolder"`
	DriveFolderID  string `json:"driveFolderId"`
}

// Preferences validates the request and converts it for storage.
func (r PreferencesRequest) Preferences() (storage.Preferences, error) {
	var p storage.Preferences

	p.FileType = storage.FileType(strings.TrimSpace(r.FileType))
	if p.FileType == "" {
		return p, errors.New("fileType is required")
	}
	if !p.FileType.Valid() {
		return p, errors.New("fileType is not supported")
	}

	p.FileNameFilter = strings.TrimSpace(r.FileNameFilter)
	if len(p.FileNameFilter) > maxFileNameFilter {
		return p, errors.New("fileNameFilter is too long")
	}

	if strings.TrimSpace(r.DateFrom) == "" {
		return p, errors.New("dateFrom is required")
	}
	var err error
	if p.DateFrom, err = gmail.ParseDate(strings.TrimSpace(r.DateFrom)); err != nil {
		return p, errors.New("dateFrom must be a YYYY-MM-DD date")
	}
	if p.DateTo, err = gmail.ParseDate(strings.TrimSpace(r.DateTo)); err != nil {
		return p, errors.New("dateTo must be a YYYY-MM-DD date")
	}
	if !p.DateTo.IsZero() && p.DateTo.Before(p.DateFrom) {
		return p, errors.New("dateTo must not be before dateFrom")
	}

	p.GmailFolder = strings.TrimSpace(r.GmailFolder)
	if p.GmailFolder == "" {
		return p, errors.New("gmailFolder is required")
	}
	p.DriveFolderID = strings.TrimSpace(r.DriveFolderID)
	if p.DriveFolderID == "" {
		return p, errors.New("driveFolderId is required")
	}
	return p, nil
}

// PreferencesResponse is the stored preferences as returned to the client.
type PreferencesResponse struct {
	UserID         string     `json:"user_id"`
	FileType       string     `json:"file_type"`
	FileNameFilter string     `json:"file_name_filter"`
	DateFrom       *time.Time `json:"date_from"`
	DateTo         *time.Time `json:"date_to"`
	GmailFolder    string     `json:"gmail_folder"`
	DriveFolderID  string     `json:"drive_folder_id"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newPreferencesResponse(p *storage.Preferences) *PreferencesResponse {
	return &PreferencesResponse{
		UserID:         p.UserID.String(),
		FileType:       string(p.FileType),
		FileNameFilter: p.FileNameFilter,
		DateFrom:       optionalTime(p.DateFrom),
		DateTo:         optionalTime(p.DateTo),
		GmailFolder:    p.GmailFolder,
		DriveFolderID:  p.DriveFolderID,
		UpdatedAt:      p.UpdatedAt,
	}
}

// LogResponse is one activity log entry as returned to the client.
type LogResponse struct {
	ID          string    `json:"id"`
	UserEmail   string    `json:"user_email"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Status      string    `json:"status"`
	DriveFileID *string   `json:"drive_file_id"`
	DriveLink   *string   `json:"drive_link"`
	SearchQuery *string   `json:"search_query"`
	CreatedAt   time.Time `json:"created_at"`
}

func newLogResponse(e storage.LogEntry) LogResponse {
	return LogResponse{
		ID:          e.ID.String(),
		UserEmail:   e.UserEmail,
		FileName:    e.FileName,
		FileType:    e.FileType,
		Status:      string(e.Status),
		DriveFileID: optionalString(e.DriveFileID),
		DriveLink:   optionalString(e.DriveLink),
		SearchQuery: optionalString(e.SearchQuery),
		CreatedAt:   e.CreatedAt,
	}
}

// endOfDay returns the last millisecond of the given YYYY-MM-DD day in UTC.
func endOfDay(s string) (time.Time, error) {
	d, err := time.Parse(gmail.DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24*time.Hour - time.Millisecond), nil
}

// CreateFolderRequest is the body of POST /api/create-drive-folder.
type CreateFolderRequest struct {
	FolderName string `json:"folderName"`
	ParentID   string `json:"parentId,omitempty"`
}
