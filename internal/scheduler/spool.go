package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/queue"
)

// SweepSpool removes photos in spoolDir that no queued upload references
// and that are older than grace. These are left behind when the local
// cleanup after a committed upload fails halfway, or when the process
// dies between copying a photo and queueing it. Hidden files are skipped.
func SweepSpool(ctx context.Context, q queue.Store, spoolDir string, grace time.Duration, now time.Time) ([]string, error) {
	dir, err := filepath.Abs(spoolDir)
	if err != nil {
		return nil, fmt.Errorf("resolve spool: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}

	pending, err := q.ListUploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	owned := make(map[string]struct{}, len(pending))
	var ownedInfo []os.FileInfo
	for _, u := range pending {
		if p, err := filepath.Abs(u.LocalBlobPath); err == nil {
			owned[p] = struct{}{}
		}
		// Catches owners recorded through a symlinked or differently
		// rooted path.
		if info, err := os.Stat(u.LocalBlobPath); err == nil {
			ownedInfo = append(ownedInfo, info)
		}
	}

	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if _, ok := owned[p]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < grace {
			continue
		}
		if sameAsAny(info, ownedInfo) {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func sameAsAny(info os.FileInfo, owned []os.FileInfo) bool {
	for _, o := range owned {
		if os.SameFile(info, o) {
			return true
		}
	}
	return false
}
