// Package config loads and validates asgn's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level shape of assigner.toml.
type Config struct {
	Dispatcher Dispatcher                  `toml:"dispatcher"`
	Probe      Probe                       `toml:"probe"`
	Locks      Locks                       `toml:"locks"`
	Reconciler Reconciler                  `toml:"reconciler"`
	Retry      Retry                       `toml:"retry"`
	Retention  Retention                   `toml:"retention"`
	Matching   Matching                    `toml:"matching"`
	Sentinels  map[string]ProviderSentinel `toml:"provider_sentinels"`
}

// Dispatcher controls the worker pool that runs the seven-step dispatch
// sequence against claimed prompts.
type Dispatcher struct {
	Workers       int `toml:"workers"`
	PollInterval  int `toml:"poll_interval_ms"`
	ClaimScanSize int `toml:"claim_scan_size"`
}

// Probe controls how sessions are observed for idle/busy/offline state.
type Probe struct {
	QuiescenceMs    int `toml:"quiescence_ms"`
	CaptureLines    int `toml:"capture_lines"`
	ReadyTimeoutMs  int `toml:"ready_timeout_ms"`
	DebounceMs      int `toml:"debounce_ms"`
}

// Locks controls the directory lock manager's default TTL. ReapIntervalMs is
// not read; the reaper's cadence is Reconciler.LockReaperMs.
type Locks struct {
	DefaultTTLSeconds int `toml:"default_ttl_seconds"`
	ReapIntervalMs    int `toml:"reap_interval_ms"`
}

// Reconciler controls the cadence of each background loop.
type Reconciler struct {
	CompletionSweepMs int `toml:"completion_sweep_ms"`
	RetryDriverMs     int `toml:"retry_driver_ms"`
	StuckDetectorMs   int `toml:"stuck_detector_ms"`
	LockReaperMs      int `toml:"lock_reaper_ms"`
	CleanupMs         int `toml:"cleanup_ms"`
}

// Retry controls the backoff schedule applied before a failed prompt is
// re-queued.
type Retry struct {
	BaseSeconds int     `toml:"base_seconds"`
	MaxSeconds  int     `toml:"max_seconds"`
	Jitter      float64 `toml:"jitter"`
}

// Retention controls how long terminal prompts and their assignment history
// are kept before the cleanup loop deletes them.
type Retention struct {
	Days int `toml:"days"`
}

// Matching holds the scoring engine's scan_limit key. ScanLimit is not read;
// the number of pending candidates scanned is Dispatcher.ClaimScanSize.
type Matching struct {
	ScanLimit int `toml:"scan_limit"`
}

// ProviderSentinel holds a provider's per-runtime markers: the prompt prefix
// and fallback delay for WaitForRuntimeReady-style bootstrap detection, and
// the success/failure regexes the completion sweep matches against a pane.
type ProviderSentinel struct {
	ReadyPromptPrefix string `toml:"ready_prompt_prefix"`
	ReadyDelayMs      int    `toml:"ready_delay_ms"`
	SuccessPattern    string `toml:"success_pattern"`
	FailurePattern    string `toml:"failure_pattern"`
}

// Default returns the configuration applied when no file is present or a
// value is left unset.
func Default() Config {
	return Config{
		Dispatcher: Dispatcher{Workers: 4, PollInterval: 500, ClaimScanSize: 256},
		Probe:      Probe{QuiescenceMs: 2000, CaptureLines: 200, ReadyTimeoutMs: 15000, DebounceMs: 100},
		Locks:      Locks{DefaultTTLSeconds: 2 * 60 * 60, ReapIntervalMs: 60000},
		Reconciler: Reconciler{
			CompletionSweepMs: 2000,
			RetryDriverMs:     10000,
			StuckDetectorMs:   30000,
			LockReaperMs:      60000,
			CleanupMs:         3600000,
		},
		Retry:     Retry{BaseSeconds: 30, MaxSeconds: 1800, Jitter: 0.2},
		Retention: Retention{Days: 7},
		Matching:  Matching{ScanLimit: 256},
		Sentinels: map[string]ProviderSentinel{},
	}
}

// Load reads path, merging file values over Default(). A missing file is not
// an error — it simply yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would make the daemon misbehave.
func (c Config) Validate() error {
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1")
	}
	if c.Locks.DefaultTTLSeconds < 1 {
		return fmt.Errorf("locks.default_ttl_seconds must be at least 1")
	}
	if c.Retry.BaseSeconds < 1 {
		return fmt.Errorf("retry.base_seconds must be at least 1")
	}
	return nil
}

// RetryDelay computes the backoff delay before retry_count-th retry,
// base * 2^retry_count, capped at MaxSeconds.
func (r Retry) RetryDelay(retryCount int) time.Duration {
	secs := r.BaseSeconds
	for i := 0; i < retryCount; i++ {
		secs *= 2
		if secs >= r.MaxSeconds {
			secs = r.MaxSeconds
			break
		}
	}
	return time.Duration(secs) * time.Second
}
