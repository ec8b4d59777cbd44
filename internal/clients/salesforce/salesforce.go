// Package salesforce is a minimal REST client for the CRM source:
// SOQL queries with server-side paging, record counts and existence
// checks over case keys. Responses decode into the raw row maps the
// normalizer consumes.
package salesforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/citygeo/case-sync/internal/clients/retry"
	"github.com/citygeo/case-sync/pkg/domain"
)

const (
	ERR_SF_MISSING_CREDS = "error missing salesforce credentials"
	ERR_SF_EMPTY_QUERY   = "error empty soql query"
	ERR_SF_DECODE        = "error decoding salesforce response"
)

var (
	ErrMissingCreds = errors.New(ERR_SF_MISSING_CREDS)
	ErrEmptyQuery   = errors.New(ERR_SF_EMPTY_QUERY)
	ErrDecode       = errors.New(ERR_SF_DECODE)
)

// existenceChunkSize keeps the IN list of a key existence query well
// under the SOQL statement length limit.
const existenceChunkSize = 200

// BaseCaseWhere excludes the record types that never reach the public
// dataset. Every case query runs under it, the existence check
// included: a case reclassified upstream into an excluded type must
// read as gone, not as still existing.
const BaseCaseWhere = "RecordTypeId != '012G00000014BhVIAU' AND Case_Record_Type__c not in ('', 'Agency Receivables', 'Revenue Escalation') AND RecordTypeId != ''"

type authResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// QueryResult is one page of a SOQL query.
type QueryResult struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []domain.RawCase `json:"records"`
}

type SalesforceClient struct {
	hc          *http.Client
	instanceURL string
	accessToken string
	apiVersion  string
	policy      retry.Policy
	l           *slog.Logger
}

// NewSalesforceClient authenticates against the login endpoint and
// returns a client bound to the returned instance URL.
func NewSalesforceClient(ctx context.Context, cfg SalesforceConfig, l *slog.Logger) (*SalesforceClient, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrMissingCreds
	}

	endpoint, form, err := NewTokenRequestBuilder(
		cfg.LoginURL,
		cfg.Username,
	).WithPassword(
		cfg.Password,
	).WithSecurityToken(
		cfg.SecurityToken,
	).WithClient(
		cfg.ClientID,
		cfg.ClientSecret,
	).Build()
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: 5 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Op: "salesforce-login", Code: resp.StatusCode, Body: string(body)}
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	return &SalesforceClient{
		hc:          hc,
		instanceURL: auth.InstanceURL,
		accessToken: auth.AccessToken,
		apiVersion:  apiVersion,
		policy:      retry.DefaultPolicy(),
		l:           l,
	}, nil
}

// SetRetryPolicy replaces the default retry policy.
func (c *SalesforceClient) SetRetryPolicy(p retry.Policy) {
	c.policy = p
}

// Query runs a SOQL query and returns the first page.
func (c *SalesforceClient) Query(ctx context.Context, soql string) (*QueryResult, error) {
	if strings.TrimSpace(soql) == "" {
		return nil, ErrEmptyQuery
	}
	path := fmt.Sprintf("/services/data/%s/query?q=%s", c.apiVersion, url.QueryEscape(soql))
	return c.queryPath(ctx, path)
}

// QueryMore fetches the next page named by a previous result.
func (c *SalesforceClient) QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error) {
	if nextRecordsURL == "" {
		return nil, ErrEmptyQuery
	}
	return c.queryPath(ctx, nextRecordsURL)
}

// Count runs a SELECT COUNT() query and returns the total.
func (c *SalesforceClient) Count(ctx context.Context, soql string) (int, error) {
	res, err := c.Query(ctx, soql)
	if err != nil {
		return 0, err
	}
	return res.TotalSize, nil
}

// ExistingKeys partitions keys into those the source still has a case
// for and those it does not, querying in bounded IN-list chunks.
func (c *SalesforceClient) ExistingKeys(ctx context.Context, keyField string, keys []string) (domain.Set[string], error) {
	existing := domain.NewSet[string]()
	for start := 0; start < len(keys); start += existenceChunkSize {
		end := min(start+existenceChunkSize, len(keys))
		chunk := keys[start:end]

		soql := fmt.Sprintf("SELECT %s FROM Case WHERE %s AND %s IN ('%s')",
			keyField, BaseCaseWhere, keyField, strings.Join(chunk, "','"))
		res, err := c.Query(ctx, soql)
		if err != nil {
			return nil, err
		}
		for _, rec := range res.Records {
			if v, ok := rec[keyField]; ok {
				existing.Add(keyString(v))
			}
		}
	}
	return existing, nil
}

// keyString renders a decoded JSON value as a case key. Decoded
// numbers arrive as float64 and must not pick up an exponent.
func keyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (c *SalesforceClient) queryPath(ctx context.Context, path string) (*QueryResult, error) {
	var result QueryResult
	err := c.policy.Do(ctx, c.l, "salesforce-query", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.instanceURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &retry.StatusError{Op: "salesforce-query", Code: resp.StatusCode, Body: string(body)}
		}

		result = QueryResult{}
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The platform decorates every record with an attributes envelope;
	// downstream consumers only want the fields.
	for _, rec := range result.Records {
		delete(rec, "attributes")
	}
	return &result, nil
}
