package mailbox

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DirProvider serves messages from a local directory tree of RFC 5322
// files, one message per file:
//
//	<root>/<folder>/<uid>.eml
//
// The uid is the file name without extension. DirProvider exists for
// local pipelines and testing against exported mail; it is read-only.
type DirProvider struct {
	root string
}

var _ Provider = (*DirProvider)(nil)

// NewDirProvider opens a directory-backed provider rooted at root.
func NewDirProvider(root string) (*DirProvider, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ProviderError{Op: "open", Err: err}
	}
	if !info.IsDir() {
		return nil, &ProviderError{Op: "open", Err: fmt.Errorf("%s is not a directory", root)}
	}
	return &DirProvider{root: root}, nil
}

const dirDefaultPageSize = 200

func (p *DirProvider) ListMessages(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folder := opts.Folder
	if folder == "" {
		folder = "INBOX"
	}

	dir := filepath.Join(p.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ProviderError{Op: "list", Folder: folder, Err: ErrFolderNotFound}
		}
		return nil, &ProviderError{Op: "list", Folder: folder, Err: err}
	}

	refs := make([]MessageRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".eml") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		refs = append(refs, MessageRef{
			UID:    folder + "/" + strings.TrimSuffix(name, ".eml"),
			Folder: folder,
			Size:   info.Size(),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].UID < refs[j].UID })

	pageSize := opts.MaxUIDs
	if pageSize <= 0 {
		pageSize = dirDefaultPageSize
	}

	start := 0
	if opts.ContinuationToken != "" {
		start, err = strconv.Atoi(opts.ContinuationToken)
		if err != nil || start < 0 {
			return nil, &ProviderError{Op: "list", Folder: folder,
				Err: fmt.Errorf("invalid continuation token %q", opts.ContinuationToken)}
		}
	}
	if start > len(refs) {
		start = len(refs)
	}

	end := start + pageSize
	if end > len(refs) {
		end = len(refs)
	}

	result := &ListResult{Refs: refs[start:end]}
	if end < len(refs) {
		result.IsTruncated = true
		result.ContinuationToken = strconv.Itoa(end)
	}
	return result, nil
}

func (p *DirProvider) Fetch(ctx context.Context, uid string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folder, name, ok := strings.Cut(uid, "/")
	if !ok {
		return nil, &ProviderError{Op: "fetch", UID: uid,
			Err: fmt.Errorf("malformed uid %q: %w", uid, ErrNotFound)}
	}

	path := filepath.Join(p.root, folder, name+".eml")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ProviderError{Op: "fetch", Folder: folder, UID: uid, Err: ErrNotFound}
		}
		return nil, &ProviderError{Op: "fetch", Folder: folder, UID: uid, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, &ProviderError{Op: "fetch", Folder: folder, UID: uid, Err: err}
	}

	parsed, err := mail.ReadMessage(f)
	if err != nil {
		return nil, &ProviderError{Op: "fetch", Folder: folder, UID: uid,
			Err: fmt.Errorf("parse message: %w", err)}
	}

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return nil, &ProviderError{Op: "fetch", Folder: folder, UID: uid, Err: err}
	}

	msg := &Message{
		MessageRef: MessageRef{UID: uid, Folder: folder, Size: info.Size()},
		Subject:    parsed.Header.Get("Subject"),
		Sender:     strings.ToLower(senderAddress(parsed.Header)),
		Body:       string(body),
	}
	if t, err := parsed.Header.Date(); err == nil {
		msg.ReceivedAt = t.UTC()
	} else {
		msg.ReceivedAt = info.ModTime().UTC()
	}
	return msg, nil
}

func (p *DirProvider) Close() error { return nil }

// senderAddress extracts the bare address from the From header, falling
// back to the raw header value when it does not parse.
func senderAddress(h mail.Header) string {
	raw := h.Get("From")
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}
