package gmail

import (
	"fmt"
	"strings"
	"time"

	"github.com/workfloww/fetchfloww/internal/storage"
)

// DateLayout is the YYYY-MM-DD format accepted by the API.
const DateLayout = "2006-01-02"

// queryDateLayout is the date format of Gmail's after:/before: operators.
const queryDateLayout = "2006/01/02"

// fileTypeExtensions lists the extensions searched for each file type.
var fileTypeExtensions = map[storage.FileType][]string{
	storage.FileTypePDF:  {"pdf"},
	storage.FileTypeXLSX: {"xlsx"},
	storage.FileTypeDOCX: {"docx"},
	storage.FileTypePPTX: {"pptx"},
	storage.FileTypeJPG:  {"jpg", "jpeg"},
	storage.FileTypePNG:  {"png"},
	storage.FileTypeZIP:  {"zip"},
	storage.FileTypeCSV:  {"csv"},
}

// SearchFilter selects the attachments to list or sync.
type SearchFilter struct {
	FileType storage.FileType
	// FileName matches attachment names case-insensitively by substring.
	FileName string
	// DateFrom and DateTo are inclusive calendar days; zero means unbounded.
	DateFrom time.Time
	DateTo   time.Time
	// LabelID restricts the search to one Gmail label.
	LabelID string
}

// FilterFromPreferences builds the filter a sync uses.
func FilterFromPreferences(p *storage.Preferences) SearchFilter {
	return SearchFilter{
		FileType: p.FileType,
		FileName: p.FileNameFilter,
		DateFrom: p.DateFrom,
		DateTo:   p.DateTo,
		LabelID:  p.GmailFolder,
	}
}

// Query renders the Gmail search string. The label is passed separately as
// a label ID and the name filter is applied locally by Matches.
func (f SearchFilter) Query() string {
	parts := []string{"has:attachment"}

	if exts := fileTypeExtensions[f.FileType]; len(exts) > 0 {
		terms := make([]string, len(exts))
		for i, ext := range exts {
			terms[i] = "filename:" + ext
		}
		if len(terms) == 1 {
			parts = append(parts, terms[0])
		} else {
			parts = append(parts, "{"+strings.Join(terms, " ")+"}")
		}
	}

	if !f.DateFrom.IsZero() {
		parts = append(parts, "after:"+f.DateFrom.Format(queryDateLayout))
	}
	if !f.DateTo.IsZero() {
		// before: is exclusive, so the day after keeps DateTo inclusive.
		parts = append(parts, "before:"+f.DateTo.AddDate(0, 0, 1).Format(queryDateLayout))
	}

	return strings.Join(parts, " ")
}

// Describe renders the query with the label, as recorded in activity logs.
func (f SearchFilter) Describe() string {
	q := f.Query()
	if f.LabelID != "" {
		q += " label:" + f.LabelID
	}
	return q
}

// LabelIDs returns the label restriction for Messages.List.
func (f SearchFilter) LabelIDs() []string {
	if f.LabelID == "" {
		return nil
	}
	return []string{f.LabelID}
}

// Matches re-checks an attachment against the filter. Gmail's filename:
// operator works per message, not per attachment.
func (f SearchFilter) Matches(a *AttachmentInfo) bool {
	if exts := fileTypeExtensions[f.FileType]; len(exts) > 0 {
		ext := a.Extension()
		found := false
		for _, e := range exts {
			if e == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if name := strings.TrimSpace(f.FileName); name != "" {
		if !strings.Contains(strings.ToLower(a.Filename), strings.ToLower(name)) {
			return false
		}
	}
	return true
}

// ParseDate parses an optional YYYY-MM-DD value as a UTC day.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
