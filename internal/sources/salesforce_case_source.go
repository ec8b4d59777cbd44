package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/comfforts/logger"

	"github.com/citygeo/case-sync/internal/clients/salesforce"
	"github.com/citygeo/case-sync/pkg/domain"
	"github.com/citygeo/case-sync/pkg/normalize"
	"github.com/citygeo/case-sync/pkg/window"
)

const (
	ERR_SF_SOURCE_NIL_CLIENT    = "case source: nil query client"
	ERR_SF_SOURCE_EMPTY_QUERY   = "case source: empty query"
	ERR_SF_SOURCE_SIZE_POSITIVE = "case source: size must be greater than 0"
)

var (
	ErrCaseSourceNilClient    = errors.New(ERR_SF_SOURCE_NIL_CLIENT)
	ErrCaseSourceEmptyQuery   = errors.New(ERR_SF_SOURCE_EMPTY_QUERY)
	ErrCaseSourceSizePositive = errors.New(ERR_SF_SOURCE_SIZE_POSITIVE)
)

const SalesforceCaseSource = "salesforce-case-source"

// progressInterval is how many fetched rows pass between progress log
// lines on a long pull.
const progressInterval = 50000

// CaseQuerier is the paging capability the source needs.
type CaseQuerier interface {
	Query(ctx context.Context, soql string) (*salesforce.QueryResult, error)
	QueryMore(ctx context.Context, nextRecordsURL string) (*salesforce.QueryResult, error)
}

// BuildCaseQuery renders the full case pull: the mapped source fields
// plus the derived geometry and status-note fields, the base record
// type exclusions, and the caller's window predicate appended verbatim.
// Rows come back in ascending order on the window's date column, so an
// interrupted run leaves no landed row newer than an unlanded one and
// the destination watermark stays safe to resume from.
func BuildCaseQuery(fm domain.FieldMap, includeLegacyNotes bool, windowPredicate, dateColumn string) string {
	fields := map[string]struct{}{
		normalize.SrcLongitude:    {},
		normalize.SrcLatitude:     {},
		normalize.SrcCloseReason:  {},
		normalize.SrcStatusUpdate: {},
	}
	if includeLegacyNotes {
		fields[normalize.SrcResolution] = struct{}{}
	}
	for _, src := range fm {
		fields[src] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	if dateColumn == "" {
		dateColumn = window.DefaultDateColumn
	}

	q := fmt.Sprintf("SELECT %s FROM Case WHERE %s %s ORDER BY %s ASC",
		strings.Join(names, ", "), salesforce.BaseCaseWhere, windowPredicate, dateColumn)
	return strings.Join(strings.Fields(q), " ")
}

// BuildCaseCountQuery renders the matching COUNT() pull.
func BuildCaseCountQuery(windowPredicate string) string {
	q := fmt.Sprintf("SELECT COUNT() FROM Case WHERE %s %s", salesforce.BaseCaseWhere, windowPredicate)
	return strings.Join(strings.Fields(q), " ")
}

// Salesforce case source. Pages through one windowed case query,
// normalizing each raw row into its canonical record.
type salesforceCaseSource struct {
	client  CaseQuerier
	norm    *normalize.Normalizer
	soql    string
	fetched int64
	l       *slog.Logger
}

// Name of the source.
func (s *salesforceCaseSource) Name() string { return SalesforceCaseSource }

func (s *salesforceCaseSource) Close(ctx context.Context) error { return nil }

// Next pulls the page at the given cursor. An empty cursor starts the
// query; a non-empty cursor is the platform's next-page locator. Page
// size is server controlled, so n only guards against a zero request.
func (s *salesforceCaseSource) Next(
	ctx context.Context,
	offset string,
	n uint,
) (*domain.BatchProcess[domain.CaseRecord], error) {
	bp := &domain.BatchProcess[domain.CaseRecord]{
		StartOffset: offset,
		NextOffset:  offset,
	}

	if n <= 0 {
		return bp, ErrCaseSourceSizePositive
	}
	if s.client == nil {
		return bp, ErrCaseSourceNilClient
	}

	var res *salesforce.QueryResult
	var err error
	if offset == "" {
		res, err = s.client.Query(ctx, s.soql)
	} else {
		res, err = s.client.QueryMore(ctx, offset)
	}
	if err != nil {
		return bp, err
	}

	records := make([]*domain.BatchRecord[domain.CaseRecord], 0, len(res.Records))
	var lastCase string
	for _, raw := range res.Records {
		rec := s.norm.Normalize(raw)
		lastCase = rec.ServiceRequestID
		records = append(records, &domain.BatchRecord[domain.CaseRecord]{Data: rec})
	}

	before := s.fetched
	s.fetched += int64(len(records))
	if s.l != nil && s.fetched/progressInterval > before/progressInterval {
		s.l.Info("case pull progress",
			slog.Int64("fetched", s.fetched),
			slog.String("last_case", lastCase))
	}

	bp.Records = records
	bp.NextOffset = res.NextRecordsURL
	bp.Done = res.Done
	return bp, nil
}

// CaseQuerierContextKey carries a worker-scoped query client. When
// present it is used instead of authenticating against the configured
// login host.
const CaseQuerierContextKey = domain.ContextKey("case-querier")

// Salesforce case source config.
type SalesforceCaseSourceConfig struct {
	Client          salesforce.SalesforceConfig
	Normalizer      normalize.Config
	WindowPredicate string
	DateColumn      string
}

// Name of the source.
func (c SalesforceCaseSourceConfig) Name() string { return SalesforceCaseSource }

// BuildSource wraps the context-injected query client when present,
// otherwise authenticates a fresh one.
func (c SalesforceCaseSourceConfig) BuildSource(ctx context.Context) (domain.Source[domain.CaseRecord], error) {
	ctxl, err := logger.LoggerFromContext(ctx)
	l, ok := ctxl.(*slog.Logger)
	if err != nil || !ok {
		l = logger.GetSlogLogger()
	}
	if v, ok := ctx.Value(CaseQuerierContextKey).(CaseQuerier); ok && v != nil {
		return NewCaseSource(v, c.Normalizer, c.WindowPredicate, c.DateColumn, l)
	}
	cl, err := salesforce.NewSalesforceClient(ctx, c.Client, l)
	if err != nil {
		return nil, err
	}
	return NewCaseSource(cl, c.Normalizer, c.WindowPredicate, c.DateColumn, l)
}

// NewCaseSource wraps an existing query client; tests and activities
// hand in their own.
func NewCaseSource(client CaseQuerier, nc normalize.Config, windowPredicate, dateColumn string, l *slog.Logger) (domain.Source[domain.CaseRecord], error) {
	if client == nil {
		return nil, ErrCaseSourceNilClient
	}
	if nc.FieldMap == nil {
		nc.FieldMap = domain.DefaultFieldMap()
	}
	norm := normalize.New(nc, l)
	soql := BuildCaseQuery(nc.FieldMap, nc.LegacyAgencyStatusNotes, windowPredicate, dateColumn)
	return &salesforceCaseSource{
		client: client,
		norm:   norm,
		soql:   soql,
		l:      l,
	}, nil
}
