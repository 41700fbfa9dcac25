package utils

import (
	"github.com/sasha-s/go-deadlock"
)

// Topic fans values out to every current subscriber. Delivery is
// unbuffered: Publish blocks until each subscriber has received the value,
// so subscribers must consume promptly or unsubscribe.
type Topic[T any] struct {
	mutex       deadlock.Mutex
	subscribers map[chan T]struct{}
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[chan T]struct{}),
	}
}

func (t *Topic[T]) Publish(value T) {
	t.mutex.Lock()
	for subscriber := range t.subscribers {
		subscriber <- value
	}
	t.mutex.Unlock()
}

func (t *Topic[T]) Subscribe() *Subscriber[T] {
	receive := make(chan T)

	t.mutex.Lock()
	t.subscribers[receive] = struct{}{}
	t.mutex.Unlock()

	return &Subscriber[T]{
		receive: receive,
		topic:   t,
	}
}

type Subscriber[T any] struct {
	receive chan T
	topic   *Topic[T]
}

func (s *Subscriber[T]) Recv() <-chan T {
	return s.receive
}

// Done unsubscribes. Values published afterwards are no longer delivered.
func (s *Subscriber[T]) Done() {
	topic := s.topic
	topic.mutex.Lock()
	delete(topic.subscribers, s.receive)
	topic.mutex.Unlock()
}
