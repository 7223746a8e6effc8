// Package pipeline drives the extraction stage: it feeds persisted
// product references through the extractor one at a time, retries
// transient failures with a cool-down, quarantines references that
// exhaust the retry budget, and checkpoints completed chunks so a killed
// run never loses finished work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/extractor"
	"github.com/aluiziolira/go-scrape-catalog/metrics"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

// quarantineFilename is the failure ledger co-located with the output.
const quarantineFilename = "products_unscraped.json"

type outcome int

const (
	outcomeExtracted outcome = iota
	outcomeSkipped
	outcomeQuarantined
	outcomeAborted
)

// Runner orchestrates the resilient batch extraction loop.
type Runner struct {
	cfg       *config.Config
	extractor *extractor.Extractor
	metrics   *metrics.Metrics

	// seen holds product identifiers already scraped this run. Bounded
	// so multi-hour runs cannot grow it without limit; the cap is far
	// above any real catalog size.
	seen *lru.Cache[string, struct{}]
}

// NewRunner builds a runner around an extractor.
func NewRunner(cfg *config.Config, x *extractor.Extractor, m *metrics.Metrics) (*Runner, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Runner{
		cfg:       cfg,
		extractor: x,
		metrics:   m,
		seen:      seen,
	}, nil
}

// QuarantinePath returns the failure ledger location: explicit config or
// the fixed filename next to the output file.
func (r *Runner) QuarantinePath() string {
	if r.cfg.QuarantineFile != "" {
		return r.cfg.QuarantineFile
	}
	return filepath.Join(filepath.Dir(r.cfg.OutputFile), quarantineFilename)
}

// Run processes every persisted reference in order. References are
// handled strictly sequentially over the single session; the first
// completed chunk overwrites the output file and every later chunk
// appends, so all fully flushed chunks survive a mid-run kill. Store I/O
// failures abort the run. On cancellation the in-memory partial batch is
// flushed before returning.
func (r *Runner) Run(ctx context.Context, sess browser.Session) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}

	refs, err := store.Read[models.ProductRef](r.cfg.RefsFile)
	if err != nil {
		return nil, fmt.Errorf("read reference list: %w", err)
	}
	if len(refs) == 0 {
		result.EndTime = time.Now()
		return result, nil
	}

	// First load settles longest and handles the cookie banner once.
	if err := sess.Navigate(ctx, refs[0].URL); err != nil {
		return nil, fmt.Errorf("warm up session: %w", err)
	}
	sess.AcceptCookieBanner(ctx)

	batch := make([]models.Product, 0, r.cfg.ChunkSize)
	firstFlush := true

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var err error
		if firstFlush {
			err = store.Overwrite(r.cfg.OutputFile, batch)
		} else {
			err = store.Append(r.cfg.OutputFile, batch)
		}
		if err != nil {
			return fmt.Errorf("flush chunk: %w", err)
		}
		firstFlush = false
		result.Chunks++
		batch = batch[:0]
		return nil
	}

	for i, ref := range refs {
		if ctx.Err() != nil {
			if err := flush(); err != nil {
				return result, err
			}
			result.EndTime = time.Now()
			return result, ctx.Err()
		}

		product, what, err := r.processRef(ctx, sess, ref)
		if err != nil {
			return result, err
		}
		if what == outcomeAborted {
			continue
		}
		result.Processed++

		switch what {
		case outcomeExtracted:
			if product.ProductID != "" {
				r.seen.Add(product.ProductID, struct{}{})
			}
			batch = append(batch, *product)
			result.Extracted++
			r.metrics.IncProducts()
		case outcomeSkipped:
			result.Skipped++
			r.metrics.IncSkipped()
		case outcomeQuarantined:
			result.Quarantined++
		}

		slog.Debug("reference processed",
			slog.String("url", ref.URL),
			slog.Int("processed", result.Processed),
			slog.Int("total", len(refs)),
		)
		if result.Processed%50 == 0 {
			slog.Info("extraction progress",
				slog.Int("processed", result.Processed),
				slog.Int("total", len(refs)),
				slog.Int("extracted", result.Extracted),
				slog.Int("skipped", result.Skipped),
				slog.Int("quarantined", result.Quarantined),
			)
		}

		if len(batch) >= r.cfg.ChunkSize {
			if err := flush(); err != nil {
				return result, err
			}
			slog.Info("chunk flushed",
				slog.Int("chunks", result.Chunks),
				slog.Int("processed", i+1),
				slog.Int("total", len(refs)),
			)
		}
	}

	if err := flush(); err != nil {
		return result, err
	}

	result.EndTime = time.Now()
	return result, nil
}

// processRef attempts one reference up to the retry ceiling. Exhausting
// the ceiling files the reference into the quarantine ledger; that is
// terminal for the item, never for the run. Only store I/O errors
// propagate.
func (r *Runner) processRef(ctx context.Context, sess browser.Session, ref models.ProductRef) (*models.Product, outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if attempt > 1 {
			r.metrics.IncRetries()
		}

		product, err := r.extractor.Extract(ctx, sess, ref, r.isSeen)
		if err == nil {
			return product, outcomeExtracted, nil
		}
		if errors.Is(err, extractor.ErrAlreadySeen) {
			return nil, outcomeSkipped, nil
		}
		lastErr = err
		slog.Debug("extraction attempt failed",
			slog.String("url", ref.URL),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		r.metrics.IncError("extraction")

		if attempt < r.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.RetryCooldown):
			}
		}
	}

	if ctx.Err() != nil {
		// Canceled mid-item: leave the reference out of the ledger so a
		// resumed run can pick it up.
		return nil, outcomeAborted, nil
	}

	slog.Warn("unable to scrape product",
		slog.String("url", ref.URL),
		slog.Any("error", lastErr),
	)
	if err := store.AppendOne(r.QuarantinePath(), ref); err != nil {
		return nil, outcomeQuarantined, fmt.Errorf("record quarantine entry: %w", err)
	}
	r.metrics.IncQuarantined()
	return nil, outcomeQuarantined, nil
}

func (r *Runner) isSeen(productID string) bool {
	return r.seen.Contains(productID)
}
