package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workfloww/fetchfloww/internal/auth"
	"github.com/workfloww/fetchfloww/internal/drive"
	"github.com/workfloww/fetchfloww/internal/gmail"
	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// Store is the persistence the app group needs.
type Store interface {
	storage.PreferencesStorage
	storage.LogStorage
}

// Handler is the app route group.
type Handler struct {
	store   Store
	clients gmail.Clients
	auth    *auth.Authenticator
	logger  *slog.Logger
}

// NewHandler builds the app route group.
func NewHandler(store Store, clients gmail.Clients, authenticator *auth.Authenticator, logger *slog.Logger) (*Handler, error) {
	if store == nil || clients == nil || authenticator == nil {
		return nil, errors.New("app: store, clients and authenticator are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{store: store, clients: clients, auth: authenticator}
	h.logger = logging.WithGroup(logger, h.Name())
	return h, nil
}

// Name implements httpapi.RouteGroup.
func (h *Handler) Name() string { return "app" }

// Register implements httpapi.RouteGroup.
func (h *Handler) Register(r httpapi.Router) error {
	r.Handle("GET /api/preferences", h.auth.RequireSession(http.HandlerFunc(h.handleGetPreferences)))
	r.Handle("POST /api/preferences", h.auth.RequireSession(http.HandlerFunc(h.handleSavePreferences)))
	r.Handle("GET /api/logs", h.auth.RequireSession(http.HandlerFunc(h.handleLogs)))
	r.Handle("GET /api/gmail-folders", h.auth.RequireSession(http.HandlerFunc(h.handleGmailFolders)))
	r.Handle("GET /api/drive-folders", h.auth.RequireSession(http.HandlerFunc(h.handleDriveFolders)))
	r.Handle("POST /api/create-drive-folder", h.auth.RequireSession(http.HandlerFunc(h.handleCreateDriveFolder)))
	return nil
}

func (h *Handler) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	prefs, err := h.store.Preferences(r.Context(), user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"data": nil})
		return
	}
	if err != nil {
		h.logger.Error("failed to load preferences", logging.UserHash(user.Email), logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Failed to fetch preferences")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"data": newPreferencesResponse(prefs)})
}

func (h *Handler) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req PreferencesRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefs, err := req.Preferences()
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefs.UserID = user.ID

	saved, err := h.store.SavePreferences(r.Context(), prefs)
	if err != nil {
		h.logger.Error("failed to save preferences", logging.UserHash(user.Email), logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Failed to save preferences")
		return
	}

	h.logger.Info("preferences saved", logging.UserHash(user.Email), slog.String("file_type", string(saved.FileType)))
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": newPreferencesResponse(saved)})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var filter storage.LogFilter
	if dateTo := r.URL.Query().Get("date_to"); dateTo != "" {
		before, err := endOfDay(dateTo)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "date_to must be a YYYY-MM-DD date")
			return
		}
		filter.Before = before
	}

	entries, err := h.store.Logs(r.Context(), user.ID, filter)
	if err != nil {
		h.logger.Error("failed to load logs", logging.UserHash(user.Email), logging.Err(err))
		httpapi.WriteError(w, http.StatusInternalServerError, "Failed to fetch logs")
		return
	}

	data := make([]LogResponse, len(entries))
	for i, e := range entries {
		data[i] = newLogResponse(e)
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handler) handleGmailFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)

	gm, err := h.clients.Gmail(ctx, user)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to fetch Gmail folders. Please try again.")
		return
	}
	labels, err := gm.ListLabels(ctx)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to fetch Gmail folders. Please try again.")
		return
	}

	folders := gmail.Folders(labels)
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"folders":      folders,
		"totalFolders": len(folders),
	})
}

func (h *Handler) handleDriveFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)

	dr, err := h.clients.Drive(ctx, user)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to fetch Drive folders")
		return
	}
	folders, err := dr.ListFolders(ctx)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to fetch Drive folders")
		return
	}
	if folders == nil {
		folders = []*drive.FileInfo{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (h *Handler) handleCreateDriveFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)

	var req CreateFolderRequest
	if err := httpapi.DecodeJSON(w, r, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.FolderName)
	if name == "" {
		httpapi.WriteError(w, http.StatusBadRequest, "folderName is required")
		return
	}

	dr, err := h.clients.Drive(ctx, user)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to create Drive folder")
		return
	}

	var parents []string
	if req.ParentID != "" {
		parents = []string{req.ParentID}
	}
	folder, err := dr.CreateFolder(ctx, name, parents)
	if err != nil {
		gmail.WriteAPIError(w, h.logger, err, "Failed to create Drive folder")
		return
	}

	h.logger.Info("drive folder created", logging.UserHash(user.Email), slog.String("folder_id", folder.ID))
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"folder": folder})
}
