package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEML(t *testing.T, root, folder, name, content string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const sampleEML = `From: Billing <Billing@Acme.Test>
To: me@example.test
Subject: Invoice INV-100
Date: Thu, 15 Jan 2026 12:00:00 +0000

Invoice INV-100
Total: $12.34
`

func TestNewDirProvider(t *testing.T) {
	root := t.TempDir()

	p, err := NewDirProvider(root)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = NewDirProvider(filepath.Join(root, "missing"))
	require.Error(t, err)

	file := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewDirProvider(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestDirProviderListMessages(t *testing.T) {
	root := t.TempDir()
	writeEML(t, root, "INBOX", "002.eml", sampleEML)
	writeEML(t, root, "INBOX", "001.eml", sampleEML)
	writeEML(t, root, "INBOX", "notes.txt", "ignored")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "INBOX", "subdir"), 0o755))

	p, err := NewDirProvider(root)
	require.NoError(t, err)

	page, err := p.ListMessages(context.Background(), ListOptions{Folder: "INBOX"})
	require.NoError(t, err)
	require.Len(t, page.Refs, 2, "non-.eml entries and subdirectories are skipped")
	assert.Equal(t, "INBOX/001", page.Refs[0].UID)
	assert.Equal(t, "INBOX/002", page.Refs[1].UID)
	assert.Equal(t, "INBOX", page.Refs[0].Folder)
	assert.Equal(t, int64(len(sampleEML)), page.Refs[0].Size)
	assert.False(t, page.IsTruncated)
}

func TestDirProviderPagination(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"001.eml", "002.eml", "003.eml"} {
		writeEML(t, root, "INBOX", name, sampleEML)
	}

	p, err := NewDirProvider(root)
	require.NoError(t, err)
	ctx := context.Background()

	page, err := p.ListMessages(ctx, ListOptions{Folder: "INBOX", MaxUIDs: 2})
	require.NoError(t, err)
	require.Len(t, page.Refs, 2)
	require.True(t, page.IsTruncated)

	page, err = p.ListMessages(ctx, ListOptions{
		Folder:            "INBOX",
		MaxUIDs:           2,
		ContinuationToken: page.ContinuationToken,
	})
	require.NoError(t, err)
	require.Len(t, page.Refs, 1)
	assert.Equal(t, "INBOX/003", page.Refs[0].UID)
	assert.False(t, page.IsTruncated)
}

func TestDirProviderFolderDefaultsAndErrors(t *testing.T) {
	root := t.TempDir()
	writeEML(t, root, "INBOX", "001.eml", sampleEML)

	p, err := NewDirProvider(root)
	require.NoError(t, err)
	ctx := context.Background()

	// Empty folder defaults to INBOX.
	page, err := p.ListMessages(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Refs, 1)

	_, err = p.ListMessages(ctx, ListOptions{Folder: "Junk"})
	assert.True(t, IsFolderNotFound(err))

	_, err = p.ListMessages(ctx, ListOptions{Folder: "INBOX", ContinuationToken: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid continuation token")
}

func TestDirProviderFetch(t *testing.T) {
	root := t.TempDir()
	writeEML(t, root, "INBOX", "001.eml", sampleEML)

	p, err := NewDirProvider(root)
	require.NoError(t, err)

	msg, err := p.Fetch(context.Background(), "INBOX/001")
	require.NoError(t, err)
	assert.Equal(t, "INBOX/001", msg.UID)
	assert.Equal(t, "INBOX", msg.Folder)
	assert.Equal(t, "Invoice INV-100", msg.Subject)
	// From address is extracted and lowercased.
	assert.Equal(t, "billing@acme.test", msg.Sender)
	assert.Contains(t, msg.Body, "Total: $12.34")
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), msg.ReceivedAt)
}

func TestDirProviderFetchMissingDateFallsBackToModTime(t *testing.T) {
	root := t.TempDir()
	writeEML(t, root, "INBOX", "001.eml", "From: a@b.test\nSubject: no date\n\nbody\n")

	p, err := NewDirProvider(root)
	require.NoError(t, err)

	msg, err := p.Fetch(context.Background(), "INBOX/001")
	require.NoError(t, err)
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestDirProviderFetchErrors(t *testing.T) {
	root := t.TempDir()
	writeEML(t, root, "INBOX", "001.eml", sampleEML)

	p, err := NewDirProvider(root)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Fetch(ctx, "INBOX/404")
	assert.True(t, IsNotFound(err))

	_, err = p.Fetch(ctx, "no-folder-component")
	assert.True(t, IsNotFound(err))
}

func TestDirProviderHonorsContext(t *testing.T) {
	root := t.TempDir()
	p, err := NewDirProvider(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.ListMessages(ctx, ListOptions{Folder: "INBOX"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = p.Fetch(ctx, "INBOX/001")
	assert.ErrorIs(t, err, context.Canceled)
}
