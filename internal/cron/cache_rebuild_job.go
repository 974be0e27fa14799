package cron

import (
	"context"
	"fmt"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/cache"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// snapshotBuilder is the slice of the cache builder the rebuild job needs.
type snapshotBuilder interface {
	BuildSnapshot(ctx context.Context) (*cache.Snapshot, error)
}

// CacheRebuildJobParams configure the periodic full cache rebuild.
type CacheRebuildJobParams struct {
	Logger    *logger.Logger
	Builder   snapshotBuilder
	CacheFile string
}

type cacheRebuildJob struct {
	logg      *logger.Logger
	builder   snapshotBuilder
	cacheFile string
}

// NewCacheRebuildJob constructs the job that scans the directory and rewrites
// the primary cache file. The write is atomic (temp file + rename), so reader
// processes always observe either the old or the new document.
func NewCacheRebuildJob(params CacheRebuildJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Builder == nil {
		return nil, fmt.Errorf("cache builder required")
	}
	if params.CacheFile == "" {
		return nil, fmt.Errorf("cache file path required")
	}
	return &cacheRebuildJob{
		logg:      params.Logger,
		builder:   params.Builder,
		cacheFile: params.CacheFile,
	}, nil
}

func (j *cacheRebuildJob) Name() string { return "cache-rebuild" }

func (j *cacheRebuildJob) Run(ctx context.Context) error {
	snapshot, err := j.builder.BuildSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("scan directory: %w", err)
	}
	if err := cache.WriteSnapshot(j.cacheFile, snapshot); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"licenses":    len(snapshot.Licenses),
		"assignments": len(snapshot.Assignments),
		"users":       len(snapshot.Users),
	})
	j.logg.Info(logCtx, "cache rebuild complete")
	return nil
}
