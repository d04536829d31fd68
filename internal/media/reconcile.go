package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eteran/meshvault/internal/ledger"
	"github.com/eteran/meshvault/internal/storage"

	"golang.org/x/sync/errgroup"
)

// DefaultGracePeriod keeps reconciliation away from blobs that an in-flight
// upload has written but not yet recorded.
const DefaultGracePeriod = time.Hour

const statConcurrency = 8

type ReconcileOptions struct {
	DryRun      bool
	GracePeriod time.Duration
}

// ReconcileReport summarises one sweep over a kind's ledger and bucket.
type ReconcileReport struct {
	Kind           ledger.Kind `json:"kind"`
	LedgerEntries  int         `json:"ledgerEntries"`
	Blobs          int         `json:"blobs"`
	Dangling       []string    `json:"dangling"`
	Orphans        []string    `json:"orphans"`
	Deleted        int         `json:"deleted"`
	Failed         int         `json:"failed"`
	ReclaimedBytes int64       `json:"reclaimedBytes"`
	DryRun         bool        `json:"dryRun"`
}

// Reconcile compares the ledger against the blob store. Entries whose blob
// is missing are reported as dangling and left alone. Blobs that no entry
// references and that are older than the grace period are deleted unless
// opts.DryRun is set.
func (s *Service) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	report := ReconcileReport{
		Kind:     s.kind,
		Dangling: []string{},
		Orphans:  []string{},
		DryRun:   opts.DryRun,
	}

	entries, err := s.ledger.ListAll(ctx, s.kind)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	report.LedgerEntries = len(entries)

	referenced := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		referenced[entry.BlobID] = struct{}{}
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(statConcurrency)
	for _, entry := range entries {
		eg.Go(func() error {
			_, err := s.blobs.Stat(egCtx, s.bucket(), entry.BlobID)
			if errors.Is(err, storage.ErrNotFound) {
				mu.Lock()
				report.Dangling = append(report.Dangling, entry.ID)
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return report, fmt.Errorf("%w: stat blobs: %w", ErrStorage, err)
	}

	cutoff := time.Now().Add(-opts.GracePeriod)
	var orphans []storage.Blob
	err = s.blobs.List(ctx, s.bucket(), func(blob storage.Blob) error {
		report.Blobs++
		if _, ok := referenced[blob.ID]; ok {
			return nil
		}
		if blob.ModifiedAt.After(cutoff) {
			return nil
		}
		orphans = append(orphans, blob)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("%w: list blobs: %w", ErrStorage, err)
	}

	for _, blob := range orphans {
		report.Orphans = append(report.Orphans, blob.ID)
		if opts.DryRun {
			continue
		}

		if err := s.blobs.Delete(ctx, s.bucket(), blob.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to delete orphaned blob", "kind", s.kind, "blob_id", blob.ID, "err", err)
			s.metrics.CleanupFailure(string(s.kind), "reconcile")
			report.Failed++
			continue
		}

		report.Deleted++
		report.ReclaimedBytes += blob.Size
	}

	s.metrics.Reconciled(string(s.kind), report.Deleted)
	slog.Info("Reconciled",
		"kind", s.kind,
		"entries", report.LedgerEntries,
		"blobs", report.Blobs,
		"dangling", len(report.Dangling),
		"orphans", len(report.Orphans),
		"deleted", report.Deleted,
		"dry_run", report.DryRun,
	)

	return report, nil
}
