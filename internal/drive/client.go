package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/workfloww/fetchfloww/internal/instrumentation"
)

const (
	// FolderMimeType is the MIME type for Google Drive folders
	FolderMimeType = "application/vnd.google-apps.folder"

	// folderQuery selects the user's folders that are not in the trash.
	folderQuery = "mimeType='" + FolderMimeType + "' and trashed=false"

	fileFields   = "id, name, mimeType, size, createdTime, modifiedTime, webViewLink, parents, trashed"
	maxPageSize  = 1000
	maxFolderHit = 5000
)

// Client wraps the Google Drive API service for one user.
type Client struct {
	service *drive.Service
	metrics *instrumentation.Metrics
}

var _ Service = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	metrics *instrumentation.Metrics
	api     []option.ClientOption
}

// WithMetrics records each Drive call.
func WithMetrics(m *instrumentation.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithAPIOptions passes options to the generated Drive service, e.g. an
// alternative endpoint in tests.
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(o *clientOptions) { o.api = append(o.api, opts...) }
}

// NewClient creates a Drive client that authenticates with httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, o.api...)
	driveService, err := drive.NewService(ctx, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{service: driveService, metrics: o.metrics}, nil
}

// observe wraps one Drive call in a span and a duration metric.
func (c *Client) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceDrive, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceDrive, operation, status, time.Since(start))
	return err
}

// ListFolders returns every non-trashed folder the user can see, sorted by name.
func (c *Client) ListFolders(ctx context.Context) ([]*FileInfo, error) {
	var folders []*FileInfo

	err := c.observe(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		pageToken := ""
		for {
			call := c.service.Files.List().
				Context(ctx).
				Q(folderQuery).
				OrderBy("name").
				PageSize(maxPageSize).
				Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")"))
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			fileList, err := call.Do()
			if err != nil {
				return fmt.Errorf("failed to list folders: %w", err)
			}
			for _, f := range fileList.Files {
				folders = append(folders, convertToFileInfo(f))
			}

			pageToken = fileList.NextPageToken
			if pageToken == "" || len(folders) >= maxFolderHit {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateFolder creates a new folder in Google Drive
func (c *Client) CreateFolder(ctx context.Context, name string, parentFolders []string) (*FileInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}

	file := &drive.File{
		Name:     name,
		MimeType: FolderMimeType,
	}
	if len(parentFolders) > 0 {
		file.Parents = parentFolders
	}

	var created *drive.File
	err := c.observe(ctx, instrumentation.OperationCreate, func(ctx context.Context) error {
		var err error
		created, err = c.service.Files.Create(file).
			Context(ctx).
			Fields(fileFields).
			Do()
		if err != nil {
			return fmt.Errorf("failed to create folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertToFileInfo(created), nil
}

// UploadFile uploads a file to Google Drive
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, options *UploadOptions) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if content == nil {
		return nil, fmt.Errorf("file content is required")
	}

	file := &drive.File{
		Name: name,
	}
	if options != nil {
		if len(options.ParentFolders) > 0 {
			file.Parents = options.ParentFolders
		}
		if options.Description != "" {
			file.Description = options.Description
		}
		if options.MimeType != "" {
			file.MimeType = options.MimeType
		}
	}

	var uploaded *drive.File
	err := c.observe(ctx, instrumentation.OperationUpload, func(ctx context.Context) error {
		var err error
		uploaded, err = c.service.Files.Create(file).
			Context(ctx).
			Media(content, googleapi.ContentType(file.MimeType)).
			Fields(fileFields).
			Do()
		if err != nil {
			return fmt.Errorf("failed to upload file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertToFileInfo(uploaded), nil
}

// convertToFileInfo converts a Drive API File to our FileInfo type
func convertToFileInfo(f *drive.File) *FileInfo {
	fileInfo := &FileInfo{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		WebViewLink: f.WebViewLink,
		Parents:     f.Parents,
		Trashed:     f.Trashed,
	}

	if f.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
			fileInfo.CreatedTime = t
		}
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			fileInfo.ModifiedTime = t
		}
	}

	return fileInfo
}
