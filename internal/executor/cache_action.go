package executor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zacharyburnett/matrixci/internal/cache"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// cacheInputs validates the with values shared by the cache actions.
func cacheInputs(sc *StepContext, in *ActionInputs) (string, []string, error) {
	if sc.Cache == nil {
		return "", nil, NewConfigError("cache is not configured", nil)
	}
	key := in.Get("key", "")
	if key == "" {
		return "", nil, NewConfigError("cache requires a key", nil)
	}
	paths := in.List("path")
	if len(paths) == 0 {
		return "", nil, NewConfigError("cache requires at least one path", nil)
	}
	return key, paths, nil
}

// restoreCache restores into the workspace and records the cache-hit and
// cache-matched-key outputs. cache-hit is "true" only on an exact key
// match.
func restoreCache(ctx context.Context, sc *StepContext, key string, restoreKeys []string, result *types.StepResult) (cache.HitKind, error) {
	kind, matched, err := sc.Cache.Restore(ctx, key, restoreKeys, sc.Workspace)
	if err != nil {
		return kind, NewExecutionError("", "cache restore failed", err)
	}

	result.Outputs["cache-hit"] = strconv.FormatBool(kind == cache.HitExact)
	if matched != "" {
		result.Outputs["cache-matched-key"] = matched
	}

	switch kind {
	case cache.HitExact:
		sc.Logf("cache restored from key: %s", matched)
	case cache.HitPartial:
		sc.Logf("cache restored from restore key: %s", matched)
	default:
		sc.Logf("cache not found for key: %s", key)
	}
	return kind, nil
}

// cacheAction restores in its main phase and registers a post-job save.
// The save is skipped when the primary key already hit or the job failed.
type cacheAction struct{}

func (a *cacheAction) Name() string { return "cache" }

func (a *cacheAction) Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error {
	key, paths, err := cacheInputs(sc, in)
	if err != nil {
		return err
	}

	kind, err := restoreCache(ctx, sc, key, in.List("restore-keys"), result)
	if err != nil {
		return err
	}
	exact := kind == cache.HitExact

	sc.AddPost(PostHook{
		Name: "cache save: " + key,
		Run: func(ctx context.Context, jobFailed bool) error {
			if exact {
				sc.Log("cache hit on the primary key, not saving")
				return nil
			}
			if jobFailed {
				sc.Log("job failed, not saving cache")
				return nil
			}
			saved, err := sc.Cache.Save(ctx, key, paths, sc.Workspace)
			if err != nil {
				// A failed save never fails the job.
				sc.Logf("warning: cache save failed: %v", err)
				return nil
			}
			if saved {
				sc.Logf("cache saved with key: %s", key)
			}
			return nil
		},
	})
	return nil
}

// cacheRestoreAction restores without registering a save.
type cacheRestoreAction struct{}

func (a *cacheRestoreAction) Name() string { return "cache/restore" }

func (a *cacheRestoreAction) Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error {
	key, _, err := cacheInputs(sc, in)
	if err != nil {
		return err
	}

	kind, err := restoreCache(ctx, sc, key, in.List("restore-keys"), result)
	if err != nil {
		return err
	}
	if kind == cache.HitMiss && in.Bool("fail-on-cache-miss", false) {
		return NewExecutionError("", fmt.Sprintf("cache miss for key: %s", key), nil)
	}
	return nil
}

// cacheSaveAction saves immediately, for jobs that want to persist state
// before later steps can fail.
type cacheSaveAction struct{}

func (a *cacheSaveAction) Name() string { return "cache/save" }

func (a *cacheSaveAction) Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error {
	key, paths, err := cacheInputs(sc, in)
	if err != nil {
		return err
	}

	saved, err := sc.Cache.Save(ctx, key, paths, sc.Workspace)
	if err != nil {
		return NewExecutionError("", "cache save failed", err)
	}
	if saved {
		sc.Logf("cache saved with key: %s", key)
	} else {
		sc.Logf("cache already exists for key: %s", key)
	}
	return nil
}

func init() {
	MustRegisterAction(&cacheAction{})
	MustRegisterAction(&cacheRestoreAction{})
	MustRegisterAction(&cacheSaveAction{})
}
