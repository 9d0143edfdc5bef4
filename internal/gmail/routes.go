package gmail

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/workfloww/fetchfloww/internal/auth"
	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

const (
	// DefaultListMax is the number of messages scanned by GET /attachments.
	DefaultListMax = 50
	// MaxListMax caps the max query parameter.
	MaxListMax = 500
)

// Handler is the attachments route group.
type Handler struct {
	clients Clients
	prefs   storage.PreferencesStorage
	syncer  *Syncer
	auth    *auth.Authenticator
	logger  *slog.Logger
}

// NewHandler builds the attachments route group.
func NewHandler(clients Clients, prefs storage.PreferencesStorage, syncer *Syncer, authenticator *auth.Authenticator, logger *slog.Logger) (*Handler, error) {
	if clients == nil || prefs == nil || syncer == nil || authenticator == nil {
		return nil, errors.New("gmail: clients, preferences, syncer and authenticator are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		clients: clients,
		prefs:   prefs,
		syncer:  syncer,
		auth:    authenticator,
	}
	h.logger = logging.WithGroup(logger, h.Name())
	return h, nil
}

// Name implements httpapi.RouteGroup.
func (h *Handler) Name() string { return "attachments" }

// Register implements httpapi.RouteGroup.
func (h *Handler) Register(r httpapi.Router) error {
	r.Handle("GET /attachments", h.auth.RequireSession(http.HandlerFunc(h.handleList)))
	r.Handle("GET /attachments/{messageID}/{attachmentID}", h.auth.RequireSession(http.HandlerFunc(h.handleDownload)))
	r.Handle("POST /attachments/sync", h.auth.RequireSession(http.HandlerFunc(h.handleSync)))
	return nil
}

// filterFromQuery parses the listing filters.
func filterFromQuery(r *http.Request) (SearchFilter, int64, error) {
	q := r.URL.Query()
	var f SearchFilter

	f.FileType = storage.FileTypeAll
	if ft := q.Get("file_type"); ft != "" {
		f.FileType = storage.FileType(ft)
		if !f.FileType.Valid() {
			return f, 0, errors.New("invalid file_type")
		}
	}
	f.FileName = q.Get("file_name")
	f.LabelID = q.Get("folder")

	var err error
	if f.DateFrom, err = ParseDate(q.Get("date_from")); err != nil {
		return f, 0, err
	}
	if f.DateTo, err = ParseDate(q.Get("date_to")); err != nil {
		return f, 0, err
	}
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return f, 0, errors.New("date_to must not be before date_from")
	}

	maxResults := int64(DefaultListMax)
	if m := q.Get("max"); m != "" {
		maxResults, err = strconv.ParseInt(m, 10, 64)
		if err != nil || maxResults < 1 || maxResults > MaxListMax {
			return f, 0, errors.New("max must be between 1 and 500")
		}
	}
	return f, maxResults, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)

	filter, maxResults, err := filterFromQuery(r)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	gm, err := h.clients.Gmail(ctx, user)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to connect to Gmail")
		return
	}

	ids, err := gm.SearchMessages(ctx, filter.Query(), filter.LabelIDs(), maxResults)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to search Gmail")
		return
	}

	attachments := []*AttachmentInfo{}
	for _, id := range ids {
		found, err := gm.ListAttachments(ctx, id)
		if err != nil {
			WriteAPIError(w, h.logger, err, "Failed to read Gmail message")
			return
		}
		for _, a := range found {
			if filter.Matches(a) {
				attachments = append(attachments, a)
			}
		}
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"query":       filter.Describe(),
		"count":       len(attachments),
		"attachments": attachments,
	})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)
	messageID := r.PathValue("messageID")
	attachmentID := r.PathValue("attachmentID")

	gm, err := h.clients.Gmail(ctx, user)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to connect to Gmail")
		return
	}

	// Gmail reissues attachment IDs on every message fetch, so the part ID is
	// accepted as well and the current attachment ID is used for download.
	attachments, err := gm.ListAttachments(ctx, messageID)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to read Gmail message")
		return
	}
	info := &AttachmentInfo{MessageID: messageID, AttachmentID: attachmentID, Filename: "attachment", MimeType: "application/octet-stream"}
	for _, a := range attachments {
		if a.AttachmentID == attachmentID || a.PartID == attachmentID {
			info = a
			break
		}
	}
	if info.Size > MaxAttachmentSize {
		WriteAPIError(w, h.logger, ErrAttachmentTooLarge, "")
		return
	}

	data, err := gm.GetAttachment(ctx, messageID, info.AttachmentID)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to download attachment")
		return
	}

	contentType := info.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": SanitizeFilename(info.Filename)}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)

	prefs, err := h.prefs.Preferences(ctx, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		httpapi.WriteError(w, http.StatusBadRequest, "Preferences not set. Save your sync settings first.")
		return
	}
	if err != nil {
		h.logger.Error("failed to load preferences", logging.UserHash(user.Email), logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if prefs.DriveFolderID == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "No Google Drive folder selected")
		return
	}

	gm, err := h.clients.Gmail(ctx, user)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to connect to Gmail")
		return
	}
	dr, err := h.clients.Drive(ctx, user)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to connect to Google Drive")
		return
	}

	result, err := h.syncer.Sync(ctx, user, prefs, gm, dr)
	if err != nil {
		WriteAPIError(w, h.logger, err, "Failed to search Gmail")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}
