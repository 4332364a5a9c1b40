package rpa

import (
	"context"
)

// Driver abstracts one attached browser context. Implementations normalize
// their own transport failures; the runner maps page-state findings (login
// walls, CAPTCHAs) onto the connector error taxonomy.
type Driver interface {
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Exists reports whether any element matches the selector.
	Exists(ctx context.Context, selector string) (bool, error)
	// ExtractRows returns one map per element matching rowSelector, with each
	// requested field resolved relative to the row (selector or @attribute).
	ExtractRows(ctx context.Context, rowSelector string, fields map[string]string) ([]map[string]string, error)
	// Fill types a value into the element matching selector.
	Fill(ctx context.Context, selector, value string) error
	// Click activates the element matching selector.
	Click(ctx context.Context, selector string) error
	// RestoreSession loads a prior session snapshot (cookies/storage).
	RestoreSession(ctx context.Context, snapshot string) error
	// SnapshotSession serializes the current session for later restoration.
	SnapshotSession(ctx context.Context) (string, error)
	// Close releases the browser context.
	Close(ctx context.Context) error
}

// DriverFactory attaches a browser context for one platform account.
type DriverFactory interface {
	Acquire(ctx context.Context, platform, accountID string) (Driver, error)
}
