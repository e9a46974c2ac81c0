package broker

import (
	"sync"

	"github.com/tidemq/broker/internal/topic"
)

// retainedStore maps a topic name to its last retain=true PUBLISH.
type retainedStore struct {
	mu   sync.RWMutex
	byTopic map[string]*Message
}

func newRetainedStore() *retainedStore {
	return &retainedStore{byTopic: make(map[string]*Message)}
}

// store records msg as the retained message for msg.Topic, or clears the
// entry if the payload is empty, per invariant 3.
func (s *retainedStore) store(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(msg.Payload) == 0 {
		delete(s.byTopic, msg.Topic)
		return
	}
	cp := *msg
	cp.Retain = true
	s.byTopic[msg.Topic] = &cp
}

// matching returns the retained messages whose topic matches filter, for
// delivery to a session that just subscribed.
func (s *retainedStore) matching(filter string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for name, msg := range s.byTopic {
		if topic.Match(filter, name) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

func (s *retainedStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTopic)
}
