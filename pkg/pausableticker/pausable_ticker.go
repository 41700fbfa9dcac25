// Package pausableticker provides a time.Ticker that can be paused and
// resumed without being recreated. Ticks are not delivered while paused.
package pausableticker

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C at a fixed period. Pause suspends delivery
// until Resume; a tick already being delivered is not interrupted.
type Ticker struct {
	C <-chan time.Time

	mu     sync.Mutex
	pause  chan bool
	paused bool
	stop   chan struct{}
	ticker *time.Ticker
}

func New(period time.Duration) *Ticker {
	ticks := make(chan time.Time)

	t := &Ticker{
		C:      ticks,
		pause:  make(chan bool),
		stop:   make(chan struct{}),
		ticker: time.NewTicker(period),
	}

	go t.run(ticks)

	return t
}

func (t *Ticker) run(ticks chan<- time.Time) {
	defer close(t.stop)

	for {
		select {
		case ticks <- <-t.ticker.C:
		case shouldPause := <-t.pause:
			if shouldPause {
				t.paused = true
				for shouldPause {
					select {
					case shouldPause = <-t.pause:
					case <-t.stop:
						return
					}
				}
				t.paused = false
			}
		case <-t.stop:
			return
		}
	}
}

func (t *Ticker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pause != nil {
		t.pause <- true
	}
}

func (t *Ticker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pause != nil {
		t.pause <- false
	}
}

// Paused reports the run loop's view of the pause state; it may lag a
// concurrent Pause or Resume by one tick.
func (t *Ticker) Paused() bool {
	return t.paused
}

// Stop shuts the ticker down. Calling Pause or Resume afterwards is a
// no-op; calling Stop twice is not allowed.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.pause)
		t.pause = nil
		t.stop <- struct{}{}
		<-t.stop
		t.stop = nil
		go t.ticker.Stop()
	}
}

func (t *Ticker) Stopped() bool {
	return t.stop == nil
}
