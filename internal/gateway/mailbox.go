package gateway

import "sync"

// mailbox is an unbounded FIFO with a single consumer. push never blocks.
type mailbox struct {
	mu     sync.Mutex
	queue  []Request
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(req Request) {
	m.mu.Lock()
	m.queue = append(m.queue, req)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// pop waits for the next request. It returns false once stop is closed.
func (m *mailbox) pop(stop <-chan struct{}) (Request, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			req := m.queue[0]
			m.queue[0] = Request{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return req, true
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-stop:
			return Request{}, false
		}
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
