// queue.go - Mailbox zwischen externen Aufrufern und der Iterationsschleife
//
// Enthaelt:
// - message: Submit oder Abort
// - mailbox: Mutex-geschuetzte Queue mit Notify-Kanal
// - drain: Uebernimmt alle Nachrichten an der Iterationsgrenze
package specrunner

import (
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"
	"github.com/google/uuid"
)

type messageKind int

const (
	messageSubmit messageKind = iota
	messageAbort
)

type message struct {
	kind messageKind
	req  *Request
	id   uuid.UUID
}

type mailbox struct {
	mu    sync.Mutex
	queue *linkedlistqueue.Queue[*message]

	// notify weckt die Schleife wenn sie auf Arbeit wartet
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		queue:  linkedlistqueue.New[*message](),
		notify: make(chan struct{}, 1),
	}
}

func (m *mailbox) push(msg *message) {
	m.mu.Lock()
	m.queue.Enqueue(msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []*message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*message, 0, m.queue.Size())
	for {
		msg, ok := m.queue.Dequeue()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// drain uebernimmt Submits als PENDING und markiert Aborts. Aufrufer haelt s.mu.
func (s *Server) drain() {
	for _, msg := range s.mailbox.take() {
		switch msg.kind {
		case messageSubmit:
			s.pending.Set(msg.req.ID, msg.req)
		case messageAbort:
			req, ok := s.requests[msg.id]
			if !ok || req.status.Terminal() {
				continue
			}
			req.abort = true
		}
	}
}

// reap beendet abgebrochene Requests und gibt ihre Slots frei. Aufrufer haelt s.mu.
func (s *Server) reap() {
	for pair := s.pending.Oldest(); pair != nil; {
		next := pair.Next()
		if req := pair.Value; req.abort {
			s.pending.Delete(req.ID)
			s.queueSem.Release(1)
			s.finish(req, StatusAborted, DoneReasonAborted, nil)
		}
		pair = next
	}

	for i, req := range s.slots {
		if req != nil && req.abort {
			slog.Debug("aborting request", "id", req.ID, "slot", i)
			s.removeRequest(i, StatusAborted, DoneReasonAborted, nil)
		}
	}

	s.metrics.queueDepth.Set(float64(s.pending.Len()))
}
