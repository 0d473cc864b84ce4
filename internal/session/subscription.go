package session

import "sync"

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultSubscriberBuffer = 8

// Subscription receives session updates until it is closed. State updates are dropped
// when the consumer falls behind; game-over updates are always delivered.
type Subscription struct {
	id      uint64
	session *Session
	updates chan Update
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	dropped int
}

// Updates is the delivery channel. It is closed when the subscription or session closes.
func (sub *Subscription) Updates() <-chan Update { return sub.updates }

// Done is closed together with the update channel.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Dropped reports how many state updates were skipped for this subscriber.
func (sub *Subscription) Dropped() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropped
}

// Close detaches the subscription from its session.
func (sub *Subscription) Close() {
	if sub == nil {
		return
	}
	s := sub.session
	s.subsMu.Lock()
	delete(s.subs, sub.id)
	s.subsMu.Unlock()
	sub.close()
}

func (sub *Subscription) close() {
	sub.once.Do(func() {
		close(sub.done)
		close(sub.updates)
	})
}

// deliver runs with the session's subsMu held, so it never races with close.
func (sub *Subscription) deliver(update Update) {
	select {
	case sub.updates <- update:
		return
	default:
	}
	if update.Kind != UpdateGameOver {
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
		return
	}
	//1.- Evict the oldest state update; only the broadcaster sends, so a slot is now free.
	select {
	case evicted := <-sub.updates:
		if evicted.Kind == UpdateGameOver {
			//2.- Never evict a pending game over; the consumer is stuck, so detach it instead.
			delete(sub.session.subs, sub.id)
			sub.close()
			return
		}
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
	default:
	}
	select {
	case sub.updates <- update:
	default:
	}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (s *Session) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscription{
		session: s,
		updates: make(chan Update, buffer),
		done:    make(chan struct{}),
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subsClosed {
		return nil, ErrSessionClosed
	}
	s.nextSub++
	sub.id = s.nextSub
	s.subs[sub.id] = sub
	return sub, nil
}

func (s *Session) broadcast(update Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.deliver(update)
	}
}
