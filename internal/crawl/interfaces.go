package crawl

import (
	"context"
	"time"
)

// SourceAdapter fetches one source for one project.
// A returned error is an adapter exception; an unsuccessful response is reported through FetchResult.
type SourceAdapter interface {
	Fetch(ctx context.Context, def SourceDefinition, project ProjectContext) (FetchResult, error)
}

// AlertNotifier delivers failure alerts. Delivery is best-effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
