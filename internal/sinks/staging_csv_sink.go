package sinks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"

	"github.com/citygeo/case-sync/pkg/domain"
)

const (
	ERR_STAGING_SINK_NIL         = "staging sink is nil"
	ERR_STAGING_SINK_CLOSED      = "staging sink: already closed"
	ERR_STAGING_SINK_DIR_INVALID = "staging sink: invalid staging directory"
)

var (
	ErrStagingSinkNil        = errors.New(ERR_STAGING_SINK_NIL)
	ErrStagingSinkClosed     = errors.New(ERR_STAGING_SINK_CLOSED)
	ErrStagingSinkDirInvalid = errors.New(ERR_STAGING_SINK_DIR_INVALID)
)

const StagingCSVSink = "staging-csv-sink"

// Staging CSV sink. Accumulates canonical rows into a local staging
// file for the bulk load, then ships the file to object storage for the
// audit trail. The local file is best-effort cleanup; a leftover file
// never fails a run.
type CSVStagingSink struct {
	f      *os.File
	w      *csv.Writer
	path   string
	bucket string
	object string
	client *storage.Client
	rows   int64
	closed bool
	l      *slog.Logger
}

// Name returns the name of the staging sink.
func (s *CSVStagingSink) Name() string { return StagingCSVSink }

// Path is the local staging file, for the bulk-load step.
func (s *CSVStagingSink) Path() string { return s.path }

// Rows is how many data rows have been staged.
func (s *CSVStagingSink) Rows() int64 { return s.rows }

// Write appends the batch to the staging file.
func (s *CSVStagingSink) Write(
	ctx context.Context,
	b *domain.BatchProcess[domain.CaseRecord],
) (*domain.BatchProcess[domain.CaseRecord], error) {
	if s == nil {
		return b, ErrStagingSinkNil
	}
	if s.closed {
		return b, ErrStagingSinkClosed
	}
	if len(b.Records) == 0 {
		return b, nil
	}

	for i, rec := range b.Records {
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		default:
		}

		if rec.BatchResult.Error != "" {
			continue
		}
		if err := s.w.Write(rec.Data.CSVRow()); err != nil {
			b.Records[i].BatchResult.Error = fmt.Sprintf("record %d stage: %s", i, err.Error())
			continue
		}
		s.rows++
		b.Records[i].BatchResult.Result = s.rows
	}

	s.w.Flush()
	return b, s.w.Error()
}

// Close flushes the staging file, uploads it when a bucket is
// configured, and removes the local copy.
func (s *CSVStagingSink) Close(ctx context.Context) error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}

	if s.client != nil && s.bucket != "" {
		if err := s.upload(ctx); err != nil {
			return err
		}
		if err := os.Remove(s.path); err != nil && s.l != nil {
			s.l.Warn("staging sink: leftover staging file",
				slog.String("path", s.path),
				slog.Any("error", err))
		}
	}
	return nil
}

func (s *CSVStagingSink) upload(ctx context.Context) error {
	defer s.client.Close()

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	wc := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return fmt.Errorf("staging sink: upload %s to %s/%s: %w", s.path, s.bucket, s.object, err)
	}
	return wc.Close()
}

// Staging CSV sink config.
type StagingCSVSinkConfig struct {
	Dir    string // staging directory, defaults to the system temp dir
	Bucket string // optional object storage destination
	Object string
}

// Name of the sink.
func (c StagingCSVSinkConfig) Name() string { return StagingCSVSink }

// BuildSink creates the staging file, writes the header row and, when a
// bucket is configured, opens the object storage client.
func (c StagingCSVSinkConfig) BuildSink(ctx context.Context) (domain.Sink[domain.CaseRecord], error) {
	return c.Build(ctx)
}

// Build is BuildSink with the concrete type, so callers can reach the
// staging path after the pull completes.
func (c StagingCSVSinkConfig) Build(ctx context.Context) (*CSVStagingSink, error) {
	dir := c.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "cases-*.csv")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStagingSinkDirInvalid, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(domain.CSVHeader()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	var client *storage.Client
	if c.Bucket != "" {
		client, err = storage.NewClient(ctx)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("staging sink: failed to create storage client: %w", err)
		}
	}

	return &CSVStagingSink{
		f:      f,
		w:      w,
		path:   f.Name(),
		bucket: c.Bucket,
		object: c.Object,
		client: client,
		l:      slog.Default(),
	}, nil
}
