package gmail

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	gmail "google.golang.org/api/gmail/v1"
)

// Label is a Gmail label with its counters.
type Label struct {
	ID             string
	Name           string
	Type           string
	MessagesTotal  int64
	MessagesUnread int64
	ThreadsTotal   int64
	ThreadsUnread  int64
}

func convertLabel(l *gmail.Label) *Label {
	return &Label{
		ID:             l.Id,
		Name:           l.Name,
		Type:           l.Type,
		MessagesTotal:  l.MessagesTotal,
		MessagesUnread: l.MessagesUnread,
		ThreadsTotal:   l.ThreadsTotal,
		ThreadsUnread:  l.ThreadsUnread,
	}
}

// Folder is a label as offered in the folder picker.
type Folder struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MessagesTotal  int64  `json:"messagesTotal"`
	MessagesUnread int64  `json:"messagesUnread"`
	ThreadsTotal   int64  `json:"threadsTotal"`
	ThreadsUnread  int64  `json:"threadsUnread"`
}

// hiddenLabels never hold attachments worth copying.
var hiddenLabels = map[string]bool{
	"DRAFT": true,
	"SPAM":  true,
	"TRASH": true,
	"CHAT":  true,
}

var friendlyLabelNames = map[string]string{
	"INBOX":     "📥 Inbox",
	"SENT":      "📤 Sent",
	"IMPORTANT": "⭐ Important",
	"STARRED":   "⭐ Starred",
	"UNREAD":    "📬 Unread",
}

// FriendlyName returns the display name for a label.
func FriendlyName(id, name string) string {
	if friendly, ok := friendlyLabelNames[id]; ok {
		return friendly
	}
	return "📁 " + name
}

// Folders filters labels down to pickable folders and orders them: INBOX
// first, then by message count descending, then by name.
func Folders(labels []*Label) []Folder {
	folders := make([]Folder, 0, len(labels))
	for _, l := range labels {
		if l == nil || l.ID == "" || l.Name == "" {
			continue
		}
		if hiddenLabels[l.ID] || strings.HasPrefix(l.ID, "CATEGORY_") {
			continue
		}
		folders = append(folders, Folder{
			ID:             l.ID,
			Name:           FriendlyName(l.ID, l.Name),
			MessagesTotal:  l.MessagesTotal,
			MessagesUnread: l.MessagesUnread,
			ThreadsTotal:   l.ThreadsTotal,
			ThreadsUnread:  l.ThreadsUnread,
		})
	}

	// Names tie-break in locale order, so case does not split the list.
	coll := collate.New(language.Und)
	sort.SliceStable(folders, func(i, j int) bool {
		a, b := folders[i], folders[j]
		if (a.ID == "INBOX") != (b.ID == "INBOX") {
			return a.ID == "INBOX"
		}
		if a.MessagesTotal != b.MessagesTotal {
			return a.MessagesTotal > b.MessagesTotal
		}
		return coll.CompareString(a.Name, b.Name) < 0
	})
	return folders
}
