// Package mailbox defines the boundary with the mailbox provider.
//
// Providers implement a minimal surface focused on paged listing and
// single-message fetch. Authentication and the wire protocol are the
// provider's concern; the sync job consumes only this interface.
package mailbox

import (
	"context"
	"time"
)

// Provider abstracts mailbox listing and fetch operations.
//
// Implementations should:
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Provider interface {
	// ListMessages returns a page of message references in a folder.
	// Use ContinuationToken from ListResult for subsequent pages.
	ListMessages(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Fetch retrieves one full message by uid.
	// Returns ErrNotFound if the message no longer exists.
	Fetch(ctx context.Context, uid string) (*Message, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a ListMessages operation.
type ListOptions struct {
	// Folder is the mailbox folder to list (e.g., "INBOX").
	Folder string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxUIDs limits the number of references returned per page.
	// Zero uses the provider default.
	MaxUIDs int
}

// ListResult contains a page of message references.
type ListResult struct {
	// Refs contains the message references for this page.
	Refs []MessageRef

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// MessageRef is the lightweight handle returned by listing. It carries
// enough to decide whether a fetch is needed without downloading the
// message body.
type MessageRef struct {
	// UID is the provider-stable message identifier.
	UID string

	// Folder is the folder the message was listed in.
	Folder string

	// Size is the raw message size in bytes.
	Size int64
}

// Message is the full message returned by Fetch.
type Message struct {
	MessageRef

	// Subject is the decoded subject header.
	Subject string

	// Sender is the From address, lowercased.
	Sender string

	// ReceivedAt is when the provider received the message.
	ReceivedAt time.Time

	// Body is the text body used by document parsing.
	Body string
}

// ListAll walks every page of a folder and returns the full reference
// list. The paging protocol stays inside this helper so callers hand a
// flat input list to the batch runner.
func ListAll(ctx context.Context, p Provider, folder string, pageSize int) ([]MessageRef, error) {
	var refs []MessageRef
	var token string

	for {
		if err := ctx.Err(); err != nil {
			return refs, err
		}

		result, err := p.ListMessages(ctx, ListOptions{
			Folder:            folder,
			ContinuationToken: token,
			MaxUIDs:           pageSize,
		})
		if err != nil {
			return refs, err
		}
		refs = append(refs, result.Refs...)

		if !result.IsTruncated || result.ContinuationToken == "" {
			return refs, nil
		}
		token = result.ContinuationToken
	}
}
