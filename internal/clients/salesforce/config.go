package salesforce

import (
	"fmt"
	"net/url"
	"strings"
)

const DefaultAPIVersion = "v59.0"

type SalesforceConfig struct {
	LoginURL      string // e.g., "https://login.salesforce.com"
	Username      string
	Password      string
	SecurityToken string
	ClientID      string
	ClientSecret  string
	APIVersion    string
}

// TokenRequestBuilder builds the form body for the OAuth
// username-password token grant.
type TokenRequestBuilder struct {
	loginURL     string
	username     string
	password     string
	token        string
	clientID     string
	clientSecret string
}

// NewTokenRequestBuilder creates a new TokenRequestBuilder
// with the specified login URL and username & returns the instance.
func NewTokenRequestBuilder(u, user string) TokenRequestBuilder {
	return TokenRequestBuilder{
		loginURL: u,
		username: user,
	}
}

func (b TokenRequestBuilder) WithPassword(p string) TokenRequestBuilder {
	b.password = p
	return b
}

func (b TokenRequestBuilder) WithSecurityToken(t string) TokenRequestBuilder {
	b.token = t
	return b
}

func (b TokenRequestBuilder) WithClient(id, secret string) TokenRequestBuilder {
	b.clientID = id
	b.clientSecret = secret
	return b
}

// Build constructs the token endpoint URL and form body. The security
// token is appended to the password, which is how the platform expects
// credential logins from outside trusted IP ranges.
func (b TokenRequestBuilder) Build() (string, url.Values, error) {
	if b.loginURL == "" || b.username == "" {
		return "", nil, fmt.Errorf("missing required parameters: login URL and username are required")
	}
	if b.clientID == "" || b.clientSecret == "" {
		return "", nil, fmt.Errorf("missing required client credentials")
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)
	form.Set("username", b.username)
	form.Set("password", b.password+b.token)

	endpoint := strings.TrimSuffix(b.loginURL, "/") + "/services/oauth2/token"
	return endpoint, form, nil
}
