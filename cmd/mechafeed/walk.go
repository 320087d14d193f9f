package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/mechafeed/internal/collection"
	"github.com/torosent/mechafeed/internal/config"
	"github.com/torosent/mechafeed/internal/logging"
	"github.com/torosent/mechafeed/internal/metrics"
	"github.com/torosent/mechafeed/internal/output"
	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/snapshot"
	"github.com/torosent/mechafeed/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// runWalk prints every record of the configured source to stdout. Logs,
// progress and the summary go to stderr.
func runWalk(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	session := ulid.Make().String()

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	logger = logger.With().Str("session", session).Logger()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := provider.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn().Err(shutdownErr).Msg("tracing shutdown failed")
		}
	}()

	base, closeSource, err := openSource(ctx, cfg, provider.ShouldPropagate())
	if err != nil {
		return err
	}
	defer closeSource()

	collector := metrics.NewCollector()
	src := instrument(base, cfg, logger, provider.Tracer(), collector)
	coll := collection.New(src,
		collection.WithBatchSize(cfg.BatchSize),
		collection.WithLogger(logger),
		collection.WithTracer(provider.Tracer()),
	)

	writer, err := output.NewRecordWriter(cfg.Output, stdout)
	if err != nil {
		return err
	}

	var exporter *batchExporter
	if cfg.Export != "" {
		store, err := snapshot.Open(cfg.Export)
		if err != nil {
			return err
		}
		defer store.Close()
		exporter = &batchExporter{store: store, size: coll.BatchSize()}
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, stderr)
		progress.Start()
	}

	logger.Info().Str("source", string(cfg.Source)).Str("target", cfg.Target).Int("batch_size", coll.BatchSize()).Msg("walk started")
	collector.Start()

	emitted := 0
	var walkErr error
	for rec, err := range coll.All(ctx) {
		if err != nil {
			walkErr = fmt.Errorf("walk stopped at position %d: %w", coll.Cursor(), err)
			break
		}
		if err := writer.Write(rec); err != nil {
			walkErr = fmt.Errorf("write record %d: %w", rec.Position, err)
			break
		}
		if exporter != nil {
			if err := exporter.add(ctx, rec); err != nil {
				walkErr = err
				break
			}
		}
		emitted++
		if cfg.Limit > 0 && emitted >= cfg.Limit {
			break
		}
	}

	if progress != nil {
		progress.Stop()
	}
	if err := writer.Flush(); err != nil && walkErr == nil {
		walkErr = err
	}
	if exporter != nil {
		// Records already printed are exported even when the walk failed.
		if err := exporter.flush(context.WithoutCancel(ctx)); err != nil {
			walkErr = errors.Join(walkErr, err)
		}
	}

	elapsed := collector.Elapsed()
	total, _ := coll.Total()
	logger.Info().Int("emitted", emitted).Uint64("total", total).Dur("elapsed", elapsed).Msg("walk finished")

	if cfg.Stats {
		summary := output.Summary{
			Session:    session,
			Source:     string(cfg.Source),
			Emitted:    emitted,
			Total:      total,
			Elapsed:    elapsed,
			Collection: coll.Stats(),
			Calls:      collector.Stats(elapsed),
		}
		if cfg.Output == config.OutputJSON {
			if err := output.PrintJSONReport(stderr, summary); err != nil && walkErr == nil {
				walkErr = err
			}
		} else {
			output.PrintReport(stderr, summary)
		}
	}
	return walkErr
}

// batchExporter saves walked records to a snapshot one batch at a time.
type batchExporter struct {
	store   *snapshot.Store
	size    int
	pending []record.Record
}

func (e *batchExporter) add(ctx context.Context, rec record.Record) error {
	e.pending = append(e.pending, rec)
	if len(e.pending) < e.size {
		return nil
	}
	return e.flush(ctx)
}

func (e *batchExporter) flush(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}
	if err := e.store.Save(ctx, e.pending...); err != nil {
		return fmt.Errorf("export to %s: %w", e.store.Path(), err)
	}
	e.pending = e.pending[:0]
	return nil
}
