// Package dashboard implements the live instance table TUI. It is a
// pure consumer of the cache: scheduled refreshes arrive as change
// messages through a Bridge, and only changed rows are re-rendered.
package dashboard

import (
	"context"
	"time"

	"github.com/mumutools/mumuctl/internal/cache"
	"github.com/mumutools/mumuctl/internal/instance"
)

// Refresher is the cache-facing surface the dashboard drives for
// manual refreshes. Satisfied by *cache.Refresher.
type Refresher interface {
	Refresh(ctx context.Context) error
	RefreshOne(ctx context.Context, index int) error
	Status() cache.Status
}

// Reader serves the dashboard's snapshot reads. Satisfied by *cache.Store.
type Reader interface {
	GetAll(maxAge time.Duration) (map[int]instance.Snapshot, bool)
}

// Controller launches and shuts down instances. Satisfied by *manager.Manager.
type Controller interface {
	Control(ctx context.Context, indices []int, action string) error
}

// --- tea.Msg types ---

// ChangesMsg carries a committed diff plus the post-commit mapping.
// Emitted by the hub subscription for every non-empty update cycle.
type ChangesMsg struct {
	Diff  cache.Result
	Snaps map[int]instance.Snapshot
}

// RefreshDoneMsg signals a manual refresh cycle committed (possibly
// with an empty diff).
type RefreshDoneMsg struct{}

// RefreshBusyMsg signals a manual refresh was rejected because a
// cycle is already in flight.
type RefreshBusyMsg struct{}

// RefreshErrMsg signals a failed refresh cycle.
type RefreshErrMsg struct {
	Err error
}

// ControlDoneMsg carries the outcome of a launch/shutdown request.
type ControlDoneMsg struct {
	Index  int
	Action string
	Err    error
}

// clearHighlightMsg expires row-change highlighting.
type clearHighlightMsg struct {
	at time.Time
}
