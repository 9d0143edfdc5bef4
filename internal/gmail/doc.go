// Package gmail finds Gmail attachments and copies them to Google Drive.
//
// It contains a per-user Gmail API client (label listing, message search and
// attachment download), the search query builder shared by the listing and
// sync paths, and the "attachments" route group:
//
//	GET  /attachments                              list matching attachments
//	GET  /attachments/{messageID}/{attachmentID}   download one attachment
//	POST /attachments/sync                         copy matches into Drive
//
// Clients are built from an authenticated *http.Client; see Clients.
package gmail
