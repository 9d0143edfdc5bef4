package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is the absolute URL of the auth callback route.
	RedirectURL string
	// Scopes defaults to DefaultOAuthScopes.
	Scopes []string
}

// Validate checks the registration is complete.
func (c Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("google client id is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("google client secret is required"))
	}
	if c.RedirectURL == "" {
		errs = append(errs, errors.New("google redirect url is required"))
	}
	return errors.Join(errs...)
}

// NewOAuthConfig returns the oauth2.Config for the Google endpoint.
func NewOAuthConfig(cfg Config) *oauth2.Config {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
}

// UserInfo is the subset of the Google profile fetchfloww keeps.
type UserInfo struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
}

// FetchUserInfo reads the profile of the account behind client. Extra
// options (such as option.WithEndpoint in tests) are appended.
func FetchUserInfo(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*UserInfo, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth2 service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Email == "" {
		return nil, errors.New("google returned a profile without an email")
	}

	verified := false
	if info.VerifiedEmail != nil {
		verified = *info.VerifiedEmail
	}

	return &UserInfo{
		Email:         info.Email,
		Name:          info.Name,
		Picture:       info.Picture,
		VerifiedEmail: verified,
	}, nil
}
