package gmail

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/workfloww/fetchfloww/internal/drive"
	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// DefaultSyncMaxMessages bounds the messages scanned by one sync.
const DefaultSyncMaxMessages = 100

// SyncedFile is the outcome for one attachment.
type SyncedFile struct {
	FileName    string            `json:"fileName"`
	Status      storage.LogStatus `json:"status"`
	DriveFileID string            `json:"driveFileId,omitempty"`
	DriveLink   string            `json:"driveLink,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// SyncResult summarises a sync run.
type SyncResult struct {
	Success   bool         `json:"success"`
	Query     string       `json:"query"`
	Messages  int          `json:"messages"`
	Processed int          `json:"processed"`
	Uploaded  int          `json:"uploaded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Files     []SyncedFile `json:"files"`
}

// Syncer copies matching attachments into Drive and records one log entry
// per attachment.
type Syncer struct {
	logs        storage.LogStorage
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
	maxMessages int64
	now         func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(logs storage.LogStorage, metrics *instrumentation.Metrics, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		logs:        logs,
		metrics:     metrics,
		logger:      logger,
		maxMessages: DefaultSyncMaxMessages,
		now:         time.Now,
	}
}

// Sync runs one sync for user. Only a failed search is returned as an
// error; per-attachment failures are reported in the result. Cancelling ctx
// stops further uploads, and entries for the work already done are still
// written.
func (s *Syncer) Sync(ctx context.Context, user *storage.User, prefs *storage.Preferences, gm Service, dr drive.Service) (*SyncResult, error) {
	filter := FilterFromPreferences(prefs)
	result := &SyncResult{Success: true, Query: filter.Describe(), Files: []SyncedFile{}}

	ids, err := gm.SearchMessages(ctx, filter.Query(), filter.LabelIDs(), s.maxMessages)
	if err != nil {
		return nil, err
	}
	result.Messages = len(ids)

	var entries []storage.LogEntry
	record := func(a *AttachmentInfo, file SyncedFile) {
		result.Files = append(result.Files, file)
		result.Processed++
		switch file.Status {
		case storage.LogStatusSuccess:
			result.Uploaded++
		case storage.LogStatusFailed:
			result.Failed++
		case storage.LogStatusSkipped:
			result.Skipped++
		}
		s.metrics.RecordAttachmentSynced(ctx, instrumentation.NormalizeFileType(a.Extension()), string(file.Status))
		entries = append(entries, storage.LogEntry{
			UserID:      user.ID,
			UserEmail:   user.Email,
			FileName:    file.FileName,
			FileType:    a.Extension(),
			Status:      file.Status,
			DriveFileID: file.DriveFileID,
			DriveLink:   file.DriveLink,
			SearchQuery: result.Query,
			CreatedAt:   s.now().UTC(),
		})
	}

messages:
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		attachments, err := gm.ListAttachments(ctx, id)
		if err != nil {
			s.logger.Warn("failed to read message", slog.String("message_id", id), logging.Err(err))
			continue
		}

		for _, a := range attachments {
			if ctx.Err() != nil {
				break messages
			}
			if !filter.Matches(a) {
				continue
			}
			record(a, s.copyAttachment(ctx, a, prefs.DriveFolderID, gm, dr))
		}
	}

	if len(entries) > 0 {
		// Entries describe uploads that already happened.
		if err := s.logs.AppendLogs(context.WithoutCancel(ctx), entries...); err != nil {
			s.logger.Error("failed to write sync logs", logging.UserHash(user.Email), logging.Err(err))
		}
	}

	s.logger.Info("sync finished",
		logging.UserHash(user.Email),
		slog.Int("messages", result.Messages),
		slog.Int("uploaded", result.Uploaded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Syncer) copyAttachment(ctx context.Context, a *AttachmentInfo, folderID string, gm Service, dr drive.Service) SyncedFile {
	file := SyncedFile{FileName: SanitizeFilename(a.Filename)}

	if a.Size > MaxAttachmentSize {
		file.Status = storage.LogStatusSkipped
		file.Error = "attachment exceeds the 25MB limit"
		return file
	}

	data, err := gm.GetAttachment(ctx, a.MessageID, a.AttachmentID)
	if err != nil {
		s.logger.Warn("failed to download attachment", slog.String("message_id", a.MessageID), logging.Err(err))
		file.Status = storage.LogStatusFailed
		file.Error = "download failed"
		return file
	}

	uploaded, err := dr.UploadFile(ctx, file.FileName, bytes.NewReader(data), &drive.UploadOptions{
		ParentFolders: []string{folderID},
		MimeType:      a.MimeType,
		Description:   a.Subject,
	})
	if err != nil {
		s.logger.Warn("failed to upload attachment", slog.String("message_id", a.MessageID), logging.Err(err))
		file.Status = storage.LogStatusFailed
		file.Error = "upload failed"
		return file
	}

	file.Status = storage.LogStatusSuccess
	file.DriveFileID = uploaded.ID
	file.DriveLink = uploaded.WebViewLink
	return file
}
