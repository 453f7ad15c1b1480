// Package browser is the thin contract over the controllable browser session.
// It performs navigation, clicks, fills, and screenshots, and returns typed
// errors instead of raw driver failures. It holds no orchestration state.
package browser

import (
	"context"
	"image"

	"github.com/certflow/certflow/errors"
)

// Typed failures of the browser collaborator. Callers route NotFound and
// Timeout through retry; Crashed means the session is gone and the run's
// circuit should absorb it.
var (
	ErrNotFound = errors.New("browser: element not found")
	ErrTimeout  = errors.New("browser: action timed out")
	ErrCrashed  = errors.New("browser: session crashed")
)

// Session is one isolated browser session. Each concurrent course task owns
// exactly one session with private cookies and storage.
type Session interface {
	// Navigate loads url and waits for the page load event.
	Navigate(ctx context.Context, url string) error

	// Click locates selector and clicks it.
	Click(ctx context.Context, selector string) error

	// Fill locates selector and types value into it, replacing prior content.
	Fill(ctx context.Context, selector string, value string) error

	// WaitVisible blocks until selector is visible or the context expires.
	WaitVisible(ctx context.Context, selector string) error

	// Screenshot captures the current viewport as a decoded frame.
	Screenshot(ctx context.Context) (image.Image, error)

	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// Close tears the session down. Safe to call more than once.
	Close() error
}
