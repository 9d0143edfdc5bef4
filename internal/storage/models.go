package storage

import (
	"time"

	"github.com/google/uuid"
)

// User is a signed-in Google account.
type User struct {
	ID      uuid.UUID
	Email   string
	Name    string
	Picture string
	Tokens  Tokens

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tokens are the user's Google credentials. Values are stored as handed in;
// callers encrypt them first when encryption at rest is configured.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// FileType is one of the attachment type filters offered to the user.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeXLSX FileType = "xlsx"
	FileTypeDOCX FileType = "docx"
	FileTypePPTX FileType = "pptx"
	FileTypeJPG  FileType = "jpg"
	FileTypePNG  FileType = "png"
	FileTypeZIP  FileType = "zip"
	FileTypeCSV  FileType = "csv"
	FileTypeAll  FileType = "all"
)

// FileTypes lists every accepted FileType in display order.
var FileTypes = []FileType{
	FileTypePDF, FileTypeXLSX, FileTypeDOCX, FileTypePPTX,
	FileTypeJPG, FileTypePNG, FileTypeZIP, FileTypeCSV, FileTypeAll,
}

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	for _, ft := range FileTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// Preferences is the sync configuration a user saved.
type Preferences struct {
	UserID         uuid.UUID
	FileType       FileType
	FileNameFilter string
	DateFrom       time.Time
	// DateTo is optional; zero means open-ended.
	DateTo        time.Time
	GmailFolder   string
	DriveFolderID string

	UpdatedAt time.Time
}

// LogStatus is the outcome of copying a single attachment.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusSkipped LogStatus = "skipped"
)

// LogEntry records one attachment copy attempt.
type LogEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	UserEmail   string
	FileName    string
	FileType    string
	Status      LogStatus
	DriveFileID string
	DriveLink   string
	SearchQuery string
	CreatedAt   time.Time
}
