package cache

import (
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Hub is a registry of parties interested in cache changes. The
// refresher notifies it after every committed update cycle; consumers
// subscribe to re-render only what changed.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]func(Result)
	nextID int
	logger log.Logger
}

// NewHub creates an empty hub. A nil logger discards output.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		subs:   make(map[int]func(Result)),
		logger: logger,
	}
}

// Subscribe registers a callback and returns a token for Unsubscribe.
// Callbacks are invoked in subscription order.
func (h *Hub) Subscribe(fn func(Result)) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return id
}

// Unsubscribe removes the callback registered under token. Unknown
// tokens are ignored.
func (h *Hub) Unsubscribe(token int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, token)
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Notify invokes every subscriber with the diff, in subscription
// order. A panicking subscriber is logged and skipped so it cannot
// abort notification of the rest or corrupt the refresh cycle.
func (h *Hub) Notify(res Result) {
	h.mu.Lock()
	tokens := make([]int, 0, len(h.subs))
	for id := range h.subs {
		tokens = append(tokens, id)
	}
	sort.Ints(tokens)
	fns := make([]func(Result), 0, len(tokens))
	for _, id := range tokens {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for i, fn := range fns {
		h.invoke(tokens[i], fn, res)
	}
}

// invoke calls one subscriber, recovering and logging any panic.
func (h *Hub) invoke(token int, fn func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			_ = level.Warn(h.logger).Log("msg", "subscriber panicked", "token", token, "panic", r)
		}
	}()
	fn(res)
}
