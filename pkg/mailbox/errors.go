package mailbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrFolderNotFound indicates the folder does not exist.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrAuthFailed indicates authentication was rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the provider service is unavailable.
	ErrUnavailable = errors.New("provider unavailable")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "ListMessages", "Fetch").
	Op string

	// Folder is the folder name, if applicable.
	Folder string

	// UID is the message uid, if applicable.
	UID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("mailbox %s: %s/%s: %v", e.Op, e.Folder, e.UID, e.Err)
	}
	if e.Folder != "" {
		return fmt.Sprintf("mailbox %s: %s: %v", e.Op, e.Folder, e.Err)
	}
	return fmt.Sprintf("mailbox %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing message.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFolderNotFound returns true if the error indicates a missing folder.
func IsFolderNotFound(err error) bool {
	return errors.Is(err, ErrFolderNotFound)
}

// IsAuthFailed returns true if the error indicates rejected credentials.
func IsAuthFailed(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}

// IsThrottled returns true if the error indicates provider rate limiting.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the error indicates the provider is down.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
