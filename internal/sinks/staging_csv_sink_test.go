package sinks_test

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citygeo/case-sync/internal/sinks"
	"github.com/citygeo/case-sync/pkg/domain"
)

func batchOf(recs ...domain.CaseRecord) *domain.BatchProcess[domain.CaseRecord] {
	bp := &domain.BatchProcess[domain.CaseRecord]{}
	for _, rec := range recs {
		bp.Records = append(bp.Records, &domain.BatchRecord[domain.CaseRecord]{Data: rec})
	}
	return bp
}

func TestStagingSinkWritesHeaderAndRows(t *testing.T) {
	ctx := context.Background()

	cfg := sinks.StagingCSVSinkConfig{Dir: t.TempDir()}
	sink, err := cfg.Build(ctx)
	require.NoError(t, err)

	updated := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	_, err = sink.Write(ctx, batchOf(
		domain.CaseRecord{ServiceRequestID: "12345678", Status: "Open", UpdatedDatetime: &updated},
		domain.CaseRecord{ServiceRequestID: "12345679", Status: "Closed"},
	))
	require.NoError(t, err)

	_, err = sink.Write(ctx, batchOf(
		domain.CaseRecord{ServiceRequestID: "12345680", Status: "Open"},
	))
	require.NoError(t, err)
	require.Equal(t, int64(3), sink.Rows())

	path := sink.Path()
	require.NoError(t, sink.Close(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, domain.CSVHeader(), rows[0])
	require.Equal(t, "12345678", rows[1][0])
	require.Equal(t, "2026-08-30 10:00:00 +0000", rows[1][16])
	// Nil dates stage as empty cells.
	require.Equal(t, "", rows[2][16])
}

func TestStagingSinkEmptyBatch(t *testing.T) {
	ctx := context.Background()

	sink, err := sinks.StagingCSVSinkConfig{Dir: t.TempDir()}.Build(ctx)
	require.NoError(t, err)

	_, err = sink.Write(ctx, batchOf())
	require.NoError(t, err)
	require.Equal(t, int64(0), sink.Rows())
	require.NoError(t, sink.Close(ctx))
}

func TestStagingSinkWriteAfterClose(t *testing.T) {
	ctx := context.Background()

	sink, err := sinks.StagingCSVSinkConfig{Dir: t.TempDir()}.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.Close(ctx))

	_, err = sink.Write(ctx, batchOf(domain.CaseRecord{ServiceRequestID: "12345678"}))
	require.ErrorIs(t, err, sinks.ErrStagingSinkClosed)
}

func TestStagingSinkInvalidDir(t *testing.T) {
	_, err := sinks.StagingCSVSinkConfig{Dir: "/nonexistent/staging"}.Build(context.Background())
	require.ErrorIs(t, err, sinks.ErrStagingSinkDirInvalid)
}
