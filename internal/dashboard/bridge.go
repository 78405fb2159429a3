package dashboard

import tea "github.com/charmbracelet/bubbletea"

// Bridge carries cache notifications from hub callbacks into the
// Bubble Tea program. Hub callbacks run on the refresh goroutine and
// must never block the cycle, so Send drops the oldest buffered
// message under backpressure; every ChangesMsg carries the full
// post-commit mapping, so coalescing loses no state.
type Bridge struct {
	ch chan tea.Msg
}

// NewBridge creates a Bridge with a buffered event channel.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 16)}
}

// Events returns the read-only channel the program forwarder consumes.
func (b *Bridge) Events() <-chan tea.Msg {
	return b.ch
}

// Send delivers a message, evicting the oldest buffered message if
// the channel is full.
func (b *Bridge) Send(msg tea.Msg) {
	for {
		select {
		case b.ch <- msg:
			return
		default:
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// Close closes the event channel, stopping the forwarder.
func (b *Bridge) Close() {
	close(b.ch)
}
