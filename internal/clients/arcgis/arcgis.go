// Package arcgis talks to the hosted feature layer behind the public
// web map: attribute queries, max-watermark statistics, batched adds
// and predicate deletes. Edit calls carry the layer's rollback
// semantics: a rolled-back batch gets one cooldown retry and a second
// rollback is fatal.
package arcgis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/citygeo/case-sync/internal/clients/retry"
)

const (
	ERR_AGO_MISSING_CREDS  = "error missing portal credentials"
	ERR_AGO_ROLLBACK       = "error edit batch rolled back twice"
	ERR_AGO_MISSING_RESULT = "error edit response carried no results"
	ERR_AGO_DECODE         = "error decoding feature layer response"
)

var (
	ErrMissingCreds  = errors.New(ERR_AGO_MISSING_CREDS)
	ErrRollback      = errors.New(ERR_AGO_ROLLBACK)
	ErrMissingResult = errors.New(ERR_AGO_MISSING_RESULT)
	ErrDecode        = errors.New(ERR_AGO_DECODE)
)

// rollbackErrorCode is the layer's "operation rolled back" edit error.
const rollbackErrorCode = 1003

// rollbackCooldown is how long a rolled-back batch waits before its
// single retry.
const rollbackCooldown = 15 * time.Second

// Feature is one feature layer row.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   any            `json:"geometry,omitempty"`
}

type editError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type editResult struct {
	ObjectID int64      `json:"objectId"`
	Success  bool       `json:"success"`
	Error    *editError `json:"error,omitempty"`
}

type editResponse struct {
	AddResults    []editResult `json:"addResults"`
	DeleteResults []editResult `json:"deleteResults"`
	Error         *editError   `json:"error,omitempty"`
}

type queryResponse struct {
	Features []Feature  `json:"features"`
	Count    int        `json:"count"`
	Error    *editError `json:"error,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type ArcGISClient struct {
	hc       *http.Client
	layerURL string
	token    string
	lenient  bool
	policy   retry.Policy
	cooldown time.Duration
	l        *slog.Logger
}

// NewArcGISClient generates a portal token and returns a client bound
// to the configured feature layer.
func NewArcGISClient(ctx context.Context, cfg ArcGISConfig, l *slog.Logger) (*ArcGISClient, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrMissingCreds
	}

	endpoint, form, err := NewTokenRequestBuilder(
		cfg.PortalURL,
		cfg.Username,
	).WithPassword(
		cfg.Password,
	).WithReferer(
		cfg.Referer,
	).Build()
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: 5 * time.Minute}
	body, err := postForm(ctx, hc, "generate-token", endpoint, form)
	if err != nil {
		return nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &ArcGISClient{
		hc:       hc,
		layerURL: strings.TrimSuffix(cfg.LayerURL, "/"),
		token:    tok.Token,
		lenient:  cfg.TreatMissingResultAsSuccess,
		policy:   retry.DefaultPolicy(),
		cooldown: rollbackCooldown,
		l:        l,
	}, nil
}

// SetRetryPolicy replaces the default retry policy.
func (c *ArcGISClient) SetRetryPolicy(p retry.Policy) {
	c.policy = p
}

// SetRollbackCooldown replaces the wait before a rolled-back batch's
// single retry.
func (c *ArcGISClient) SetRollbackCooldown(d time.Duration) {
	c.cooldown = d
}

// MaxUpdated returns the layer's maximum value of the named date field
// as epoch milliseconds, and false when the layer is empty.
func (c *ArcGISClient) MaxUpdated(ctx context.Context, dateField string) (int64, bool, error) {
	stats := fmt.Sprintf(
		`[{"statisticType":"max","onStatisticField":"%s","outStatisticFieldName":"max_date"}]`,
		dateField)
	form := url.Values{}
	form.Set("f", "json")
	form.Set("where", "1=1")
	form.Set("outStatistics", stats)

	body, err := c.do(ctx, "query-statistics", c.layerURL+"/query", form)
	if err != nil {
		return 0, false, err
	}

	var res queryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(res.Features) == 0 {
		return 0, false, nil
	}
	v, ok := res.Features[0].Attributes["max_date"]
	if !ok || v == nil {
		return 0, false, nil
	}
	ms, ok := v.(float64)
	if !ok {
		return 0, false, fmt.Errorf("%w: max_date is %T", ErrDecode, v)
	}
	return int64(ms), true, nil
}

// Fields lists the layer's field names from its metadata document.
func (c *ArcGISClient) Fields(ctx context.Context) ([]string, error) {
	form := url.Values{}
	form.Set("f", "json")

	body, err := c.do(ctx, "layer-metadata", c.layerURL, form)
	if err != nil {
		return nil, err
	}

	var meta struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	names := make([]string, 0, len(meta.Fields))
	for _, f := range meta.Fields {
		names = append(names, f.Name)
	}
	return names, nil
}

// Count returns the number of features matching the predicate.
func (c *ArcGISClient) Count(ctx context.Context, where string) (int, error) {
	form := url.Values{}
	form.Set("f", "json")
	form.Set("where", where)
	form.Set("returnCountOnly", "true")

	body, err := c.do(ctx, "query-count", c.layerURL+"/query", form)
	if err != nil {
		return 0, err
	}

	var res queryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return res.Count, nil
}

// AddFeatures uploads one batch. A rolled-back batch waits out the
// cooldown and retries once; a second rollback fails the run. A
// response with no per-feature results retries once unless the client
// was configured to accept it.
func (c *ArcGISClient) AddFeatures(ctx context.Context, features []Feature) error {
	if len(features) == 0 {
		return nil
	}
	payload, err := json.Marshal(features)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("f", "json")
	form.Set("rollbackOnFailure", "true")
	form.Set("features", string(payload))

	// A gateway timeout must surface instead of retrying inside the
	// policy: the edit may have committed and a blind resend would
	// duplicate features.
	addPolicy := c.policy
	addPolicy.Classify = func(err error) retry.Class {
		var statusErr *retry.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusGatewayTimeout {
			return retry.Fatal
		}
		return retry.Classify(err)
	}

	rolledBack := false
	missingResult := false
	for {
		body, err := c.doPolicy(ctx, addPolicy, "add-features", c.layerURL+"/addFeatures", form)
		if err != nil {
			var statusErr *retry.StatusError
			if errors.As(err, &statusErr) && statusErr.Code == http.StatusGatewayTimeout {
				// The layer often commits these edits anyway; the next
				// incremental pass reconciles any that were lost.
				if c.l != nil {
					c.l.Warn("gateway timeout on add, assuming batch landed",
						slog.Int("features", len(features)))
				}
				return nil
			}
			return err
		}

		var res editResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}

		if len(res.AddResults) == 0 {
			if c.lenient {
				return nil
			}
			if missingResult {
				return ErrMissingResult
			}
			missingResult = true
			if c.l != nil {
				c.l.Warn("edit response carried no results, retrying batch once",
					slog.Int("features", len(features)))
			}
			continue
		}

		rb, reason := rolledBackBatch(res.AddResults)
		if !rb {
			return nil
		}
		if rolledBack {
			return fmt.Errorf("%w: %s", ErrRollback, reason)
		}
		rolledBack = true
		if c.l != nil {
			c.l.Warn("edit batch rolled back, cooling down before retry",
				slog.String("reason", reason),
				slog.Int("features", len(features)))
		}
		if err := sleepCtx(ctx, c.cooldown); err != nil {
			return err
		}
	}
}

// DeleteFeatures removes every feature matching the predicate.
func (c *ArcGISClient) DeleteFeatures(ctx context.Context, where string) error {
	form := url.Values{}
	form.Set("f", "json")
	form.Set("where", where)

	body, err := c.do(ctx, "delete-features", c.layerURL+"/deleteFeatures", form)
	if err != nil {
		return err
	}

	var res editResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if res.Error != nil {
		return fmt.Errorf("delete-features: code %d: %s", res.Error.Code, res.Error.Description)
	}
	return nil
}

func rolledBackBatch(results []editResult) (bool, string) {
	for _, r := range results {
		if r.Success || r.Error == nil {
			continue
		}
		if r.Error.Code == rollbackErrorCode {
			return true, r.Error.Description
		}
	}
	return false, ""
}

// do posts the form under the client's retry policy, folding
// JSON-level errors the layer reports with HTTP 200 into classifiable
// failures.
func (c *ArcGISClient) do(ctx context.Context, op, endpoint string, form url.Values) ([]byte, error) {
	return c.doPolicy(ctx, c.policy, op, endpoint, form)
}

func (c *ArcGISClient) doPolicy(ctx context.Context, p retry.Policy, op, endpoint string, form url.Values) ([]byte, error) {
	form.Set("token", c.token)

	var body []byte
	err := p.Do(ctx, c.l, op, func() error {
		var err error
		body, err = postForm(ctx, c.hc, op, endpoint, form)
		if err != nil {
			return err
		}

		var probe struct {
			Error *editError `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
			return fmt.Errorf("%s: code %d: %s", op, probe.Error.Code, probe.Error.Description)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func postForm(ctx context.Context, hc *http.Client, op, endpoint string, form url.Values) ([]byte, error) {
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
		return nil, &retry.StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
