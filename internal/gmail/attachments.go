package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/workfloww/fetchfloww/internal/instrumentation"
)

const (
	// MaxAttachmentSize defines the maximum attachment size in bytes (25MB)
	MaxAttachmentSize = 25 * 1024 * 1024
)

// ErrAttachmentTooLarge is returned for attachments above MaxAttachmentSize.
var ErrAttachmentTooLarge = errors.New("attachment exceeds maximum size")

// AttachmentInfo represents an attachment's metadata
type AttachmentInfo struct {
	MessageID    string    `json:"messageId"`
	PartID       string    `json:"partId"`
	AttachmentID string    `json:"attachmentId"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Subject      string    `json:"subject,omitempty"`
	From         string    `json:"from,omitempty"`
	Date         time.Time `json:"date,omitzero"`
}

// Extension returns the lower-cased file extension without the dot.
func (a *AttachmentInfo) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(a.Filename)), ".")
}

// ListAttachments extracts all attachments from a message
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]*AttachmentInfo, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}

	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return attachmentsFromMessage(msg), nil
}

// attachmentsFromMessage collects every part that carries a named
// attachment body.
func attachmentsFromMessage(msg *gmail.Message) []*AttachmentInfo {
	if msg == nil {
		return nil
	}

	subject := headerValue(msg.Payload, "Subject")
	from := headerValue(msg.Payload, "From")
	var date time.Time
	if msg.InternalDate > 0 {
		date = time.UnixMilli(msg.InternalDate).UTC()
	}

	var attachments []*AttachmentInfo
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			attachments = append(attachments, &AttachmentInfo{
				MessageID:    msg.Id,
				PartID:       part.PartId,
				AttachmentID: part.Body.AttachmentId,
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
				Subject:      subject,
				From:         from,
				Date:         date,
			})
		}
	})
	return attachments
}

// GetAttachment retrieves the content of an attachment
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	var attachment *gmail.MessagePartBody
	err := c.observe(ctx, instrumentation.OperationDownload, func(ctx context.Context) error {
		var err error
		attachment, err = c.svc.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get attachment %s: %w", attachmentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if attachment.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size %d: %w", attachment.Size, ErrAttachmentTooLarge)
	}

	return decodeBase64(attachment.Data)
}

// decodeBase64 decodes Gmail body data. Gmail uses RFC 4648 base64url, with
// or without padding.
func decodeBase64(data string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("failed to decode attachment data")
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}

	fn(part)

	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

func headerValue(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SanitizeFilename sanitizes a filename to prevent path traversal attacks
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	filename = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, filename)
	if strings.TrimSpace(filename) == "" {
		return "attachment"
	}
	return filename
}
