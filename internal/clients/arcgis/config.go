package arcgis

import (
	"fmt"
	"net/url"
	"strings"
)

type ArcGISConfig struct {
	PortalURL string // e.g., "https://www.arcgis.com"
	LayerURL  string // feature layer REST endpoint
	Username  string
	Password  string
	Referer   string
	// TreatMissingResultAsSuccess accepts an edit response that carries
	// no per-feature results instead of retrying it once.
	TreatMissingResultAsSuccess bool
}

// TokenRequestBuilder builds the form body for a portal token grant.
type TokenRequestBuilder struct {
	portalURL string
	username  string
	password  string
	referer   string
}

// NewTokenRequestBuilder creates a new TokenRequestBuilder with the
// specified portal URL and username & returns the instance.
func NewTokenRequestBuilder(p, u string) TokenRequestBuilder {
	return TokenRequestBuilder{
		portalURL: p,
		username:  u,
	}
}

func (b TokenRequestBuilder) WithPassword(p string) TokenRequestBuilder {
	b.password = p
	return b
}

func (b TokenRequestBuilder) WithReferer(r string) TokenRequestBuilder {
	b.referer = r
	return b
}

// Build constructs the generateToken endpoint URL and form body.
func (b TokenRequestBuilder) Build() (string, url.Values, error) {
	if b.portalURL == "" || b.username == "" {
		return "", nil, fmt.Errorf("missing required parameters: portal URL and username are required")
	}

	referer := b.referer
	if referer == "" {
		referer = b.portalURL
	}

	form := url.Values{}
	form.Set("f", "json")
	form.Set("username", b.username)
	form.Set("password", b.password)
	form.Set("referer", referer)

	endpoint := strings.TrimSuffix(b.portalURL, "/") + "/sharing/rest/generateToken"
	return endpoint, form, nil
}
