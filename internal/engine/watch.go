package engine

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nietsneuah/fmquery/internal/odata"
)

// tuningConfig is the hot-reloadable knob set: retry backoff and the
// table-cache row cap. Tuned without a restart via WatchConfigFile,
// repurposing the teacher's WatchFile/reload-on-write idiom
// (`internal/core/db.go`) for cache and retry knobs instead of chat
// session config.
type tuningConfig struct {
	RetryBaseDelayMS int `json:"retry_base_delay_ms"`
	RetryMaxRetries  int `json:"retry_max_retries"`
	CacheRowCap      int `json:"cache_row_cap"`
}

// WatchConfigFile watches path for writes and reapplies its tuning knobs
// to the tenant controller's retry policy and every existing cache
// entry's row cap whenever the file changes. Returns after the initial
// load; reload happens in the background for the engine's lifetime.
func (e *Engine) WatchConfigFile(path string) error {
	if err := e.applyTuningFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := e.applyTuningFile(path); err != nil {
						e.log.Warn("config reload failed", "path", path, "error", err)
					} else {
						e.log.Info("config reloaded", "path", path)
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (e *Engine) applyTuningFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg tuningConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	retry := odata.DefaultRetryConfig()
	if cfg.RetryBaseDelayMS > 0 {
		retry.BaseDelay = time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond
	}
	if cfg.RetryMaxRetries > 0 {
		retry.MaxRetries = cfg.RetryMaxRetries
	}
	e.Tenant.SetRetryConfig(retry)

	if cfg.CacheRowCap > 0 {
		e.Cache.SetDefaultRowCap(cfg.CacheRowCap)
	}
	return nil
}
