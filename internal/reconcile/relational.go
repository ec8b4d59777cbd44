// Package reconcile converges the two mirrors onto the source of
// record: the relational reconciler applies fetched batches and removes
// rows deleted upstream, the map-layer reconciler mirrors canonical
// records into the public feature layer.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/citygeo/case-sync/pkg/domain"
)

const (
	ERR_RECON_DUPLICATE_KEY = "error duplicate key in fetched batch"
	ERR_RECON_NIL_UPSERTER  = "error nil bulk upserter"
)

var (
	ErrDuplicateKey = errors.New(ERR_RECON_DUPLICATE_KEY)
	ErrNilUpserter  = errors.New(ERR_RECON_NIL_UPSERTER)
)

// upsertChunkSize bounds one bulk-upsert transaction.
const upsertChunkSize = 1000

// BulkUpserter is the destination-side write capability.
type BulkUpserter interface {
	UpsertCases(ctx context.Context, table string, recs []domain.CaseRecord) error
}

// KeyArchiver enumerates mirror keys and archives removed cases.
type KeyArchiver interface {
	ServiceRequestIDs(ctx context.Context) ([]string, error)
	ArchiveAndDelete(ctx context.Context, ids []string) error
}

// SourceKeyChecker reports which keys the source of record still has.
type SourceKeyChecker interface {
	ExistingKeys(ctx context.Context, keyField string, keys []string) (domain.Set[string], error)
}

// RelationalReconciler applies fetched batches to the raw mirror table.
type RelationalReconciler struct {
	up       BulkUpserter
	table    string
	upserted int64
	l        *slog.Logger
}

func NewRelationalReconciler(up BulkUpserter, table string, l *slog.Logger) (*RelationalReconciler, error) {
	if up == nil {
		return nil, ErrNilUpserter
	}
	return &RelationalReconciler{up: up, table: table, l: l}, nil
}

// Upserted is the running count of applied records.
func (r *RelationalReconciler) Upserted() int64 { return r.upserted }

// ApplyBatch upserts one fetched batch in bounded chunks. A duplicate
// key inside a single batch means the windowed query misbehaved and is
// fatal; replaying a whole batch stays idempotent.
func (r *RelationalReconciler) ApplyBatch(ctx context.Context, bp *domain.BatchProcess[domain.CaseRecord]) error {
	recs := make([]domain.CaseRecord, 0, len(bp.Records))
	keys := make([]string, 0, len(bp.Records))
	for _, br := range bp.Records {
		if br.BatchResult.Error != "" {
			continue
		}
		recs = append(recs, br.Data)
		keys = append(keys, br.Data.ServiceRequestID)
	}
	if len(recs) == 0 {
		return nil
	}

	if dup, found := domain.HasDuplicates(keys); found {
		return fmt.Errorf("%w: %s in batch %s", ErrDuplicateKey, dup, bp.BatchId)
	}

	for start := 0; start < len(recs); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(recs))
		if err := r.up.UpsertCases(ctx, r.table, recs[start:end]); err != nil {
			return err
		}
	}
	r.upserted += int64(len(recs))
	return nil
}

// DeleteReconciler detects cases removed at the source and archives
// them out of both relational mirrors.
type DeleteReconciler struct {
	store    KeyArchiver
	source   SourceKeyChecker
	keyField string
	l        *slog.Logger
}

func NewDeleteReconciler(store KeyArchiver, source SourceKeyChecker, keyField string, l *slog.Logger) *DeleteReconciler {
	return &DeleteReconciler{store: store, source: source, keyField: keyField, l: l}
}

// Run enumerates every mirror key, asks the source which still exist,
// and archives the orphans. Returns how many were archived. Re-running
// after a partial failure finds the already-archived keys gone and
// simply skips them.
func (d *DeleteReconciler) Run(ctx context.Context) (int, error) {
	ids, err := d.store.ServiceRequestIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if d.l != nil {
			d.l.Info("no mirror keys, nothing to reconcile")
		}
		return 0, nil
	}

	// A repeated mirror key means the key enumeration is broken; checking
	// it upstream would miscount the orphans, so stop before the source
	// is ever asked.
	if dup, found := domain.HasDuplicates(ids); found {
		return 0, fmt.Errorf("%w: %s among %d mirror keys", ErrDuplicateKey, dup, len(ids))
	}

	existing, err := d.source.ExistingKeys(ctx, d.keyField, ids)
	if err != nil {
		return 0, err
	}

	missing := make([]string, 0)
	for _, id := range ids {
		if !existing.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		if d.l != nil {
			d.l.Info("no cases removed upstream", slog.Int("checked", len(ids)))
		}
		return 0, nil
	}

	if d.l != nil {
		d.l.Info("archiving cases removed upstream",
			slog.Int("checked", len(ids)),
			slog.Int("removed", len(missing)))
	}
	if err := d.store.ArchiveAndDelete(ctx, missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}
