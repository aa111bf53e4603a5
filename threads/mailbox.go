package threads

import "sync"

// Mailbox is a context's inbound queue. Post never blocks. The owner either
// polls Pending (a running guest checking its mailbox) or parks on Wait.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Message
	flag   bool
	notify chan struct{}
}

func newMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Post appends msg and wakes the owner if it is parked.
func (m *Mailbox) Post(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.flag = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Pending reports whether anything was posted since the last Take.
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flag
}

// Wait returns the channel that fires after a Post. A wakeup may be stale;
// callers always Take and handle an empty batch.
func (m *Mailbox) Wait() <-chan struct{} { return m.notify }

// Take removes and returns everything queued, in arrival order.
func (m *Mailbox) Take() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	m.flag = false
	return q
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
