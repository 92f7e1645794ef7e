// Package manifest defines the per-run job manifest.
//
// A manifest describes one mailbatch pipeline: where the mail store
// lives, which mailbox folder to sync, the vendor grammars to parse
// with, the enrichment client limits, and per-job batching knobs. The
// process-level config (logging, server, event bus) lives in
// internal/config; the manifest is what a single invocation runs.
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hina0118/mailbatch/pkg/jobs/docparse"
)

// JobSettings are the engine knobs for one job type.
type JobSettings struct {
	// BatchSize is the chunk size handed to the batch runner. Must be >= 1.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// DelayMs is the fixed pause between chunks, in milliseconds.
	DelayMs int `yaml:"delay_ms" json:"delay_ms"`

	// Timeout optionally bounds the whole run wall-clock; zero means
	// unbounded.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Limit caps how many items one invocation selects. Zero uses the
	// job default.
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// StoreConfig locates the mail database.
type StoreConfig struct {
	Path      string `yaml:"path" json:"path"`
	URL       string `yaml:"url,omitempty" json:"url,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`

	// BusyTimeout is how long statements wait on a locked database
	// before failing; zero uses the store default.
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" json:"busy_timeout,omitempty"`
}

// MailboxConfig configures the sync job's provider.
type MailboxConfig struct {
	// Dir is the root of a directory-backed mailbox (one .eml file per
	// message under <dir>/<folder>/).
	Dir string `yaml:"dir" json:"dir"`

	// Folder is the mailbox folder to synchronize.
	Folder string `yaml:"folder" json:"folder"`

	// PageSize is the listing page size used while enumerating the folder.
	PageSize int `yaml:"page_size,omitempty" json:"page_size,omitempty"`
}

// EnrichConfig configures the enrichment job's client limits.
type EnrichConfig struct {
	// Endpoint is the enrichment API URL.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// APIKey, when set, authenticates calls to the endpoint. Prefer the
	// MAILBATCH_ENRICH_API_KEY environment variable over checking keys
	// into manifests.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// MaxBatch is the remote API's own request-group limit. It is
	// typically stricter than the engine's batch_size.
	MaxBatch int `yaml:"max_batch,omitempty" json:"max_batch,omitempty"`

	// RequestsPerSecond paces remote calls; zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty"`

	// Model names the remote model for status output only.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
}

// JobsConfig groups the per-job engine settings.
type JobsConfig struct {
	Sync   JobSettings `yaml:"sync" json:"sync"`
	Parse  JobSettings `yaml:"parse" json:"parse"`
	Enrich JobSettings `yaml:"enrich" json:"enrich"`
}

// Manifest is the root document.
type Manifest struct {
	// Name labels this pipeline in run records.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	Store   StoreConfig   `yaml:"store" json:"store"`
	Mailbox MailboxConfig `yaml:"mailbox" json:"mailbox"`
	Enrich  EnrichConfig  `yaml:"enrich,omitempty" json:"enrich,omitempty"`
	Jobs    JobsConfig    `yaml:"jobs" json:"jobs"`

	// Grammars are the vendor grammar specs for document parsing.
	Grammars []docparse.GrammarSpec `yaml:"grammars,omitempty" json:"grammars,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultBatchSize   = 50
	DefaultLimit       = 500
	DefaultFolder      = "INBOX"
	DefaultPageSize    = 200
	DefaultEnrichBatch = 10
)

// ApplyDefaults fills optional fields with their defaults.
func (m *Manifest) ApplyDefaults() {
	applyJobDefaults(&m.Jobs.Sync)
	applyJobDefaults(&m.Jobs.Parse)
	applyJobDefaults(&m.Jobs.Enrich)

	if strings.TrimSpace(m.Mailbox.Folder) == "" {
		m.Mailbox.Folder = DefaultFolder
	}
	if m.Mailbox.PageSize <= 0 {
		m.Mailbox.PageSize = DefaultPageSize
	}
	if m.Enrich.MaxBatch <= 0 {
		m.Enrich.MaxBatch = DefaultEnrichBatch
	}
}

func applyJobDefaults(js *JobSettings) {
	if js.BatchSize <= 0 {
		js.BatchSize = DefaultBatchSize
	}
	if js.Limit <= 0 {
		js.Limit = DefaultLimit
	}
}

// Validate checks the manifest after defaults are applied.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Store.Path) == "" && strings.TrimSpace(m.Store.URL) == "" {
		return errors.New("store.path or store.url is required")
	}
	if m.Store.BusyTimeout < 0 {
		return errors.New("store.busy_timeout must be >= 0")
	}

	for name, js := range map[string]JobSettings{
		"sync":   m.Jobs.Sync,
		"parse":  m.Jobs.Parse,
		"enrich": m.Jobs.Enrich,
	} {
		if js.BatchSize < 1 {
			return fmt.Errorf("jobs.%s.batch_size must be >= 1", name)
		}
		if js.DelayMs < 0 {
			return fmt.Errorf("jobs.%s.delay_ms must be >= 0", name)
		}
		if js.Timeout < 0 {
			return fmt.Errorf("jobs.%s.timeout must be >= 0", name)
		}
	}

	if m.Enrich.RequestsPerSecond < 0 {
		return errors.New("enrich.requests_per_second must be >= 0")
	}

	// Compile grammars eagerly so bad expressions fail at load time,
	// not mid-run.
	if _, err := m.CompileGrammars(); err != nil {
		return err
	}
	return nil
}

// Delay returns the settings' inter-chunk pause as a duration.
func (js JobSettings) Delay() time.Duration {
	return time.Duration(js.DelayMs) * time.Millisecond
}

// CompileGrammars compiles the manifest's grammar specs.
func (m *Manifest) CompileGrammars() (*docparse.GrammarSet, error) {
	return docparse.CompileSet(m.Grammars...)
}
