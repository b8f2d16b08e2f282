package store

import (
	"sync"

	"complaint-portal/pkg/models"
)

// subscriber hands snapshots to one callback on its own goroutine. Every
// offered snapshot is queued and delivered in commit order, so a slow
// callback falls behind but never skips a state.
type subscriber struct {
	fn SnapshotFunc

	mu      sync.Mutex
	pending [][]models.Complaint

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSubscriber(fn SnapshotFunc) *subscriber {
	s := &subscriber{
		fn:     fn,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *subscriber) offer(snapshot []models.Complaint) {
	s.mu.Lock()
	s.pending = append(s.pending, snapshot)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, snapshot := range batch {
			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(snapshot)
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func cloneComplaints(cs []models.Complaint) []models.Complaint {
	out := make([]models.Complaint, len(cs))
	for i, c := range cs {
		out[i] = cloneComplaint(c)
	}
	return out
}

func cloneComplaint(c models.Complaint) models.Complaint {
	if c.AssignedAuthority != nil {
		v := *c.AssignedAuthority
		c.AssignedAuthority = &v
	}
	if c.NotificationID != nil {
		v := *c.NotificationID
		c.NotificationID = &v
	}
	return c
}
