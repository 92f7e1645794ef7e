package mailbox

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryProvider is an in-memory Provider used by tests and local dry
// runs. Messages are served in uid order with real pagination so callers
// exercise the same paging path they would against a live mailbox.
type MemoryProvider struct {
	mu       sync.RWMutex
	byFolder map[string][]Message
	pageSize int

	// FetchErr, when set, is returned by Fetch for matching uids.
	fetchErrs map[string]error
}

// NewMemoryProvider creates an empty in-memory provider with the given
// default page size (values below 1 fall back to 100).
func NewMemoryProvider(pageSize int) *MemoryProvider {
	if pageSize < 1 {
		pageSize = 100
	}
	return &MemoryProvider{
		byFolder:  make(map[string][]Message),
		pageSize:  pageSize,
		fetchErrs: make(map[string]error),
	}
}

// Add stores messages in their folders, keeping uid order.
func (m *MemoryProvider) Add(msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.byFolder[msg.Folder] = append(m.byFolder[msg.Folder], msg)
	}
	for folder := range m.byFolder {
		sort.Slice(m.byFolder[folder], func(i, j int) bool {
			return m.byFolder[folder][i].UID < m.byFolder[folder][j].UID
		})
	}
}

// FailFetch makes Fetch return err for the given uid.
func (m *MemoryProvider) FailFetch(uid string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErrs[uid] = err
}

// ListMessages implements Provider.
func (m *MemoryProvider) ListMessages(_ context.Context, opts ListOptions) (*ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs, ok := m.byFolder[opts.Folder]
	if !ok {
		return nil, &ProviderError{Op: "ListMessages", Folder: opts.Folder, Err: ErrFolderNotFound}
	}

	start := 0
	if opts.ContinuationToken != "" {
		n, err := strconv.Atoi(opts.ContinuationToken)
		if err != nil || n < 0 || n > len(msgs) {
			return nil, &ProviderError{Op: "ListMessages", Folder: opts.Folder, Err: ErrNotFound}
		}
		start = n
	}

	pageSize := opts.MaxUIDs
	if pageSize < 1 {
		pageSize = m.pageSize
	}
	end := start + pageSize
	if end > len(msgs) {
		end = len(msgs)
	}

	refs := make([]MessageRef, 0, end-start)
	for _, msg := range msgs[start:end] {
		refs = append(refs, msg.MessageRef)
	}

	result := &ListResult{Refs: refs}
	if end < len(msgs) {
		result.IsTruncated = true
		result.ContinuationToken = strconv.Itoa(end)
	}
	return result, nil
}

// Fetch implements Provider.
func (m *MemoryProvider) Fetch(_ context.Context, uid string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, ok := m.fetchErrs[uid]; ok {
		return nil, &ProviderError{Op: "Fetch", UID: uid, Err: err}
	}
	for _, msgs := range m.byFolder {
		for _, msg := range msgs {
			if msg.UID == uid {
				out := msg
				return &out, nil
			}
		}
	}
	return nil, &ProviderError{Op: "Fetch", UID: uid, Err: ErrNotFound}
}

// Close implements Provider.
func (m *MemoryProvider) Close() error { return nil }

// Compile-time check that MemoryProvider implements Provider.
var _ Provider = (*MemoryProvider)(nil)
