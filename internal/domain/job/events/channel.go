package events

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

const topicEvents = "job.events"

// Hub owns one event channel per job identity. Channels are independent, so
// concurrent jobs never contend or interleave.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	buffer   int
}

// NewHub creates a hub whose channels hand each subscriber a buffer of the
// given size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		channels: make(map[string]*Channel),
		buffer:   buffer,
	}
}

// Open returns the channel for jobID, creating it when absent.
func (h *Hub) Open(jobID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[jobID]; ok {
		return ch
	}
	ch := newChannel(jobID, h.buffer)
	h.channels[jobID] = ch
	return ch
}

// Get looks up an existing channel.
func (h *Hub) Get(jobID string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[jobID]
	return ch, ok
}

// Remove drops the channel for a reclaimed job.
func (h *Hub) Remove(jobID string) {
	h.mu.Lock()
	delete(h.channels, jobID)
	h.mu.Unlock()
}

// Channel is the ordered event path for one job. The runner publishes to the
// job's bus and every subscription registers its own handler there, so the
// bus performs the fanout. Handlers are synchronous, which makes publish
// order the delivery order for every consumer.
type Channel struct {
	jobID  string
	bus    evbus.Bus
	buffer int

	mu       sync.Mutex
	terminal Event
}

func newChannel(jobID string, buffer int) *Channel {
	return &Channel{
		jobID:  jobID,
		bus:    evbus.New(),
		buffer: buffer,
	}
}

// JobID returns the owning job identifier.
func (c *Channel) JobID() string {
	return c.jobID
}

// Publish delivers the event to every attached subscriber. After a terminal
// event the channel is sealed: later publishes are ignored, later subscribers
// receive the retained terminal event immediately.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return
	}
	if ev.Terminal() {
		c.terminal = ev
	}
	c.mu.Unlock()

	c.bus.Publish(topicEvents, ev)
}

// Subscribe attaches a new consumer as a bus handler. If the job already
// reached a terminal state the subscription yields the terminal event and is
// closed right away, so late viewers still terminate cleanly.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{
		ch:   make(chan Event, c.buffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal != nil {
		sub.ch <- c.terminal
		close(sub.ch)
		sub.sealed = true
		return sub
	}
	_ = c.bus.Subscribe(topicEvents, sub.handle)
	return sub
}

// Terminal returns the retained terminal event, if any.
func (c *Channel) Terminal() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal, c.terminal != nil
}

// Subscription is one consumer's view of a channel.
type Subscription struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	// sealed is only touched inside handle; the bus serializes handler calls.
	sealed bool
}

// Events exposes the receive side; it is closed after the terminal event.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel releases the subscription, e.g. when the viewing connection drops.
// The job itself is unaffected, and a delivery blocked on this consumer's
// full buffer unblocks immediately.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
	})
}

// handle is this subscription's bus handler, invoked once per published
// event. It applies the backlog policy: progress events may be coalesced when
// the consumer lags, file_complete and terminal events are never dropped.
func (s *Subscription) handle(ev Event) {
	if s.sealed {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	if _, droppable := ev.(Progress); droppable {
		select {
		case s.ch <- ev:
		default:
		}
		return
	}

	select {
	case s.ch <- ev:
	case <-s.done:
		return
	}

	if ev.Terminal() {
		s.sealed = true
		close(s.ch)
	}
}
