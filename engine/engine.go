// Package engine provides the JavaScript-rendering client boundary.
//
// The rest of the system treats rendering as an opaque capability: give a
// session a URL, get rendered HTML back or a typed failure. The production
// implementation drives a shared headless Chrome via rod; tests substitute
// fakes behind the same interfaces.
package engine

import "context"

// RenderResult is the output of a successful render.
type RenderResult struct {
	HTML     string
	Title    string
	FinalURL string
}

// Session is one owned rendering context (a browser tab). A session is NOT
// safe for concurrent use; each agent owns exactly one and reuses it across
// identifiers to amortize startup cost.
type Session interface {
	// Render navigates to url, waits for the page to settle, and returns
	// the rendered content. The context bounds the whole operation.
	Render(ctx context.Context, url string) (*RenderResult, error)

	// Close releases the session. Safe to call after a failed Render.
	Close() error
}

// Client owns the browser process and hands out sessions.
type Client interface {
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}
