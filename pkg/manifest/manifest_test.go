package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hina0118/mailbatch/pkg/jobs/docparse"
)

func validManifest() *Manifest {
	return &Manifest{
		Name:  "test-pipeline",
		Store: StoreConfig{Path: "/tmp/mailbatch-test/mail.db"},
		Grammars: []docparse.GrammarSpec{{
			Vendor:         "acme",
			SenderPatterns: []string{"*@acme.test"},
			DocNumber:      `Invoice (INV-\d+)`,
		}},
	}
}

func TestApplyDefaults(t *testing.T) {
	m := validManifest()
	m.ApplyDefaults()

	assert.Equal(t, DefaultBatchSize, m.Jobs.Sync.BatchSize)
	assert.Equal(t, DefaultBatchSize, m.Jobs.Parse.BatchSize)
	assert.Equal(t, DefaultBatchSize, m.Jobs.Enrich.BatchSize)
	assert.Equal(t, DefaultLimit, m.Jobs.Sync.Limit)
	assert.Equal(t, DefaultFolder, m.Mailbox.Folder)
	assert.Equal(t, DefaultPageSize, m.Mailbox.PageSize)
	assert.Equal(t, DefaultEnrichBatch, m.Enrich.MaxBatch)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	m := validManifest()
	m.Jobs.Sync.BatchSize = 5
	m.Jobs.Sync.Limit = 25
	m.Mailbox.Folder = "Archive"
	m.Enrich.MaxBatch = 3
	m.ApplyDefaults()

	assert.Equal(t, 5, m.Jobs.Sync.BatchSize)
	assert.Equal(t, 25, m.Jobs.Sync.Limit)
	assert.Equal(t, "Archive", m.Mailbox.Folder)
	assert.Equal(t, 3, m.Enrich.MaxBatch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Manifest) {},
		},
		{
			name:    "missing store",
			mutate:  func(m *Manifest) { m.Store = StoreConfig{} },
			wantErr: "store.path or store.url is required",
		},
		{
			name:   "url without path is fine",
			mutate: func(m *Manifest) { m.Store = StoreConfig{URL: "libsql://db.example.io"} },
		},
		{
			name:    "negative busy timeout",
			mutate:  func(m *Manifest) { m.Store.BusyTimeout = -time.Second },
			wantErr: "store.busy_timeout must be >= 0",
		},
		{
			name:    "negative delay",
			mutate:  func(m *Manifest) { m.Jobs.Parse.DelayMs = -1 },
			wantErr: "jobs.parse.delay_ms must be >= 0",
		},
		{
			name:    "negative timeout",
			mutate:  func(m *Manifest) { m.Jobs.Enrich.Timeout = -time.Second },
			wantErr: "jobs.enrich.timeout must be >= 0",
		},
		{
			name:    "negative pacing",
			mutate:  func(m *Manifest) { m.Enrich.RequestsPerSecond = -1 },
			wantErr: "enrich.requests_per_second must be >= 0",
		},
		{
			name: "bad grammar fails eagerly",
			mutate: func(m *Manifest) {
				m.Grammars[0].DocNumber = "("
			},
			wantErr: "doc_number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			m.ApplyDefaults()

			err := m.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateBatchSizeBeforeDefaults(t *testing.T) {
	m := validManifest()
	// Validate without ApplyDefaults catches the zero batch size.
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be >= 1")
}

func TestJobSettingsDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), JobSettings{}.Delay())
	assert.Equal(t, 250*time.Millisecond, JobSettings{DelayMs: 250}.Delay())
}

func TestCompileGrammars(t *testing.T) {
	m := validManifest()
	set, err := m.CompileGrammars()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, set.Vendors())
}
