package gmail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/workfloww/fetchfloww/internal/instrumentation"
)

const (
	// maxPageSize is the largest page Messages.List accepts.
	maxPageSize = 500

	// labelFetchConcurrency bounds parallel Labels.Get calls.
	labelFetchConcurrency = 8
)

// Service is the subset of Gmail used by the route groups.
type Service interface {
	ListLabels(ctx context.Context) ([]*Label, error)
	SearchMessages(ctx context.Context, query string, labelIDs []string, maxResults int64) ([]string, error)
	ListAttachments(ctx context.Context, messageID string) ([]*AttachmentInfo, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Client wraps the Gmail Users service for one user.
type Client struct {
	svc     *gmail.UsersService
	metrics *instrumentation.Metrics
}

var _ Service = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	metrics *instrumentation.Metrics
	api     []option.ClientOption
}

// WithMetrics records each Gmail call.
func WithMetrics(m *instrumentation.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithAPIOptions passes options to the generated Gmail service.
func WithAPIOptions(opts ...option.ClientOption) ClientOption {
	return func(o *clientOptions) { o.api = append(o.api, opts...) }
}

// NewClient creates a Gmail client that authenticates with httpClient.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, o.api...)
	svc, err := gmail.NewService(ctx, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{svc: svc.Users, metrics: o.metrics}, nil
}

// observe wraps one Gmail call in a span and a duration metric.
func (c *Client) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation)
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
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
	return err
}

// ListLabels returns the user's labels with message and thread counts.
// Labels.List omits counts, so each label is fetched individually.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	var labels []*Label

	err := c.observe(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		res, err := c.svc.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to list labels: %w", err)
		}

		labels = make([]*Label, len(res.Labels))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(labelFetchConcurrency)
		for i, l := range res.Labels {
			g.Go(func() error {
				detail, err := c.svc.Labels.Get("me", l.Id).Context(gctx).Do()
				if err != nil {
					return fmt.Errorf("failed to get label %s: %w", l.Id, err)
				}
				labels[i] = convertLabel(detail)
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// SearchMessages returns the IDs of up to maxResults messages matching query
// and carrying every label in labelIDs, newest first.
func (c *Client) SearchMessages(ctx context.Context, query string, labelIDs []string, maxResults int64) ([]string, error) {
	var ids []string

	err := c.observe(ctx, instrumentation.OperationSearch, func(ctx context.Context) error {
		pageToken := ""
		for {
			remaining := maxResults - int64(len(ids))
			if remaining <= 0 {
				return nil
			}
			pageSize := remaining
			if pageSize > maxPageSize {
				pageSize = maxPageSize
			}

			req := c.svc.Messages.List("me").Context(ctx).Q(query).MaxResults(pageSize)
			if len(labelIDs) > 0 {
				req = req.LabelIds(labelIDs...)
			}
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}

			res, err := req.Do()
			if err != nil {
				return fmt.Errorf("failed to search messages: %w", err)
			}
			for _, m := range res.Messages {
				ids = append(ids, m.Id)
			}

			if res.NextPageToken == "" {
				return nil
			}
			pageToken = res.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}

	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// GetMessage retrieves a full Gmail message
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.observe(ctx, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Messages.Get("me", messageID).Context(ctx).Format("full").Do()
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", messageID, err)
		}
		return nil
	})
	return msg, err
}
