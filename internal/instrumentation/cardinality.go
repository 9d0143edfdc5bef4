package instrumentation

import "strings"

// ExtractUserDomain reduces an email to its domain for metric labels.
// Full addresses never go into labels.
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// NormalizeFileType maps a file type label onto the closed set the frontend
// offers, so arbitrary extensions cannot explode attachments_synced_total.
func NormalizeFileType(fileType string) string {
	switch ft := strings.ToLower(strings.TrimPrefix(fileType, ".")); ft {
	case "pdf", "xlsx", "docx", "pptx", "jpg", "png", "zip", "csv", "all":
		return ft
	default:
		return "other"
	}
}

// Operation types for Google API metrics.
const (
	OperationList     = "list"
	OperationGet      = "get"
	OperationCreate   = "create"
	OperationUpload   = "upload"
	OperationSearch   = "search"
	OperationDownload = "download"
)
