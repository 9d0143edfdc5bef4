// Package app is the "app" route group: the user's sync preferences, the
// activity log and the Gmail/Drive folder pickers.
//
//	GET  /api/preferences
//	POST /api/preferences
//	GET  /api/logs?date_to=YYYY-MM-DD
//	GET  /api/gmail-folders
//	GET  /api/drive-folders
//	POST /api/create-drive-folder
//
// Every route requires a session.
package app
