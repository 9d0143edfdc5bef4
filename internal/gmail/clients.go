package gmail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/workfloww/fetchfloww/internal/drive"
	"github.com/workfloww/fetchfloww/internal/google"
	"github.com/workfloww/fetchfloww/internal/httpapi"
	"github.com/workfloww/fetchfloww/internal/instrumentation"
	"github.com/workfloww/fetchfloww/internal/logging"
	"github.com/workfloww/fetchfloww/internal/storage"
)

// Clients builds Google API clients acting as a user.
type Clients interface {
	Gmail(ctx context.Context, user *storage.User) (Service, error)
	Drive(ctx context.Context, user *storage.User) (drive.Service, error)
}

// GoogleClients builds clients from the user's stored OAuth tokens.
type GoogleClients struct {
	credentials *google.Credentials
	metrics     *instrumentation.Metrics
}

var _ Clients = (*GoogleClients)(nil)

// NewGoogleClients creates a GoogleClients.
func NewGoogleClients(credentials *google.Credentials, metrics *instrumentation.Metrics) *GoogleClients {
	return &GoogleClients{credentials: credentials, metrics: metrics}
}

// Gmail implements Clients.
func (c *GoogleClients) Gmail(ctx context.Context, user *storage.User) (Service, error) {
	hc, err := c.credentials.HTTPClient(ctx, user)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, hc, WithMetrics(c.metrics))
}

// Drive implements Clients.
func (c *GoogleClients) Drive(ctx context.Context, user *storage.User) (drive.Service, error) {
	hc, err := c.credentials.HTTPClient(ctx, user)
	if err != nil {
		return nil, err
	}
	return drive.NewClient(ctx, hc, drive.WithMetrics(c.metrics))
}

// WriteAPIError maps a Google API or credential failure to a JSON error
// reply and logs it.
func WriteAPIError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	status := http.StatusBadGateway

	var gerr *googleapi.Error
	switch {
	case errors.Is(err, google.ErrNoRefreshToken):
		status = http.StatusUnauthorized
		message = "Google authorization expired. Please sign in again."
	case errors.Is(err, ErrAttachmentTooLarge):
		status = http.StatusRequestEntityTooLarge
		message = "Attachment exceeds the 25MB limit"
	case errors.As(err, &gerr):
		switch gerr.Code {
		case http.StatusNotFound:
			status = http.StatusNotFound
		case http.StatusUnauthorized:
			status = http.StatusUnauthorized
			message = "Google authorization expired. Please sign in again."
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error(message, logging.Err(err))
	} else {
		logger.Info(message, logging.Err(err))
	}
	httpapi.WriteError(w, status, message)
}
