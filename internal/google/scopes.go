package google

// DefaultOAuthScopes are requested on every sign-in.
//
// The scopes provide access to:
//   - OpenID Connect profile and email (user identity)
//   - Gmail: read-only (labels, messages, attachments)
//   - Google Drive: full access (list folders, create folders, upload files)
var DefaultOAuthScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/drive",
}
