package queue

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	QueueChanged   <-chan QueueChange
	CurrentChanged <-chan CurrentChange
	MessageChanged <-chan MessageChange
	SearchChanged  <-chan SearchChange
	Done           <-chan struct{}

	// Internal write channels
	queueCh   chan QueueChange
	currentCh chan CurrentChange
	messageCh chan MessageChange
	searchCh  chan SearchChange
	doneCh    chan struct{}
}

// newSubscription creates a new subscription with buffered channels.
func newSubscription() *Subscription {
	s := &Subscription{
		queueCh:   make(chan QueueChange, eventBufferSize),
		currentCh: make(chan CurrentChange, eventBufferSize),
		messageCh: make(chan MessageChange, eventBufferSize),
		searchCh:  make(chan SearchChange, eventBufferSize),
		doneCh:    make(chan struct{}),
	}
	s.QueueChanged = s.queueCh
	s.CurrentChanged = s.currentCh
	s.MessageChanged = s.messageCh
	s.SearchChanged = s.searchCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// sendQueue sends a queue change event (non-blocking).
func (s *Subscription) sendQueue(e QueueChange) {
	select {
	case s.queueCh <- e:
	default:
		// Drop if buffer full
	}
}

// sendCurrent sends a current-song change event (non-blocking).
func (s *Subscription) sendCurrent(e CurrentChange) {
	select {
	case s.currentCh <- e:
	default:
	}
}

// sendMessage sends a message change event (non-blocking).
func (s *Subscription) sendMessage(e MessageChange) {
	select {
	case s.messageCh <- e:
	default:
	}
}

// sendSearch sends a search query change event (non-blocking).
func (s *Subscription) sendSearch(e SearchChange) {
	select {
	case s.searchCh <- e:
	default:
	}
}
