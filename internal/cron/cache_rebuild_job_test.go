package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cache"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

type builderStub struct {
	snapshot *cache.Snapshot
	err      error
}

func (b *builderStub) BuildSnapshot(context.Context) (*cache.Snapshot, error) {
	return b.snapshot, b.err
}

func TestCacheRebuildJobWritesSnapshot(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "license-cache.json")
	job, err := NewCacheRebuildJob(CacheRebuildJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		Builder: &builderStub{snapshot: &cache.Snapshot{
			Licenses: []*cache.CachedLicense{{EntryUUID: "lic-1", Code: "CCH-1"}},
		}},
		CacheFile: cacheFile,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("cache file is empty")
	}
}

func TestCacheRebuildJobPropagatesScanFailure(t *testing.T) {
	job, err := NewCacheRebuildJob(CacheRebuildJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Builder:   &builderStub{err: errors.New("directory down")},
		CacheFile: filepath.Join(t.TempDir(), "license-cache.json"),
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("scan failure must propagate")
	}
}
