package checks

import "context"

// Browser opens pages. One Browser is shared by every probe of a run.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Navigate must return once the document has loaded;
// BodyText returns the rendered text of <body>.
type Page interface {
	Navigate(ctx context.Context, url string) error
	BodyText(ctx context.Context) (string, error)
	Close() error
}
