package stores

import (
	"context"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/sandbox"
)

// ProcessCache adapts the SQLite store to the sandbox result-cache
// interface, persisting process results across quarry invocations.
type ProcessCache struct {
	store *SQLiteStore
}

// NewProcessCache wraps an initialized store.
func NewProcessCache(store *SQLiteStore) *ProcessCache {
	return &ProcessCache{store: store}
}

// Get implements sandbox.ResultCache.
func (c *ProcessCache) Get(ctx context.Context, fp digest.Fingerprint) (*sandbox.ProcessResult, bool, error) {
	row, err := c.store.GetProcessRow(ctx, fp.String())
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	return &sandbox.ProcessResult{
		ExitCode: row.ExitCode,
		Stdout:   row.Stdout,
		Stderr:   row.Stderr,
		OutputDigest: digest.Digest{
			Hash:      row.OutputDigestHash,
			SizeBytes: row.OutputDigestSize,
		},
		Duration: time.Duration(row.DurationNanos),
	}, true, nil
}

// Put implements sandbox.ResultCache.
func (c *ProcessCache) Put(ctx context.Context, fp digest.Fingerprint, res *sandbox.ProcessResult) error {
	return c.store.PutProcessRow(ctx, &ProcessRow{
		Fingerprint:      fp.String(),
		ExitCode:         res.ExitCode,
		Stdout:           res.Stdout,
		Stderr:           res.Stderr,
		OutputDigestHash: res.OutputDigest.Hash,
		OutputDigestSize: res.OutputDigest.SizeBytes,
		DurationNanos:    int64(res.Duration),
	})
}
