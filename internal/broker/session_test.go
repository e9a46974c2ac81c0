package broker

import "testing"

func TestSessionStoreCreatesOnFirstConnect(t *testing.T) {
	st := newSessionStore(10)
	sess, wasPresent, wasConnected, evict := st.takeOrCreate("c1", true)

	if wasPresent || wasConnected || evict != nil {
		t.Fatalf("first connect should report nothing prior, got present=%v connected=%v evict=%v", wasPresent, wasConnected, evict)
	}
	if sess.ClientID != "c1" {
		t.Fatalf("want client id c1, got %s", sess.ClientID)
	}
}

func TestSessionStoreTakeoverEvictsPriorConnection(t *testing.T) {
	st := newSessionStore(10)
	sess, _, _, _ := st.takeOrCreate("c1", false)

	fakeConn := &client{clientID: "c1"}
	sess.mu.Lock()
	sess.conn = fakeConn
	sess.mu.Unlock()

	_, wasPresent, wasConnected, evict := st.takeOrCreate("c1", false)
	if !wasPresent {
		t.Fatal("expected wasPresent true on second connect for the same id")
	}
	if !wasConnected {
		t.Fatal("expected wasConnected true: the prior session had a live connection")
	}
	if evict != fakeConn {
		t.Fatalf("expected the prior connection to be returned for eviction, got %v", evict)
	}
}

func TestSessionStoreCleanStartDiscardsPriorState(t *testing.T) {
	st := newSessionStore(10)
	sess, _, _, _ := st.takeOrCreate("c1", false)
	sess.mu.Lock()
	sess.subs["a/b"] = QoS1
	sess.mu.Unlock()

	fresh, wasPresent, _, _ := st.takeOrCreate("c1", true)
	if !wasPresent {
		t.Fatal("wasPresent should reflect that a session existed before")
	}
	if len(fresh.subs) != 0 {
		t.Fatal("a clean-session takeover must discard the prior session's subscriptions")
	}
}

func TestSessionStoreNonCleanResumePreservesState(t *testing.T) {
	st := newSessionStore(10)
	sess, _, _, _ := st.takeOrCreate("c1", false)
	sess.mu.Lock()
	sess.subs["a/b"] = QoS1
	sess.mu.Unlock()

	resumed, wasPresent, _, _ := st.takeOrCreate("c1", false)
	if !wasPresent {
		t.Fatal("expected wasPresent true")
	}
	if resumed != sess {
		t.Fatal("a non-clean resume must return the same session object")
	}
	if resumed.subs["a/b"] != QoS1 {
		t.Fatal("a non-clean resume must preserve prior subscriptions")
	}
}

func TestSessionEnqueueDropsOldestQoS0OnOverflow(t *testing.T) {
	s := newSession("c1", false, 2)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueueLocked(&Message{Topic: "a", QoS: QoS0, Payload: []byte("1")})
	s.enqueueLocked(&Message{Topic: "a", QoS: QoS0, Payload: []byte("2")})
	overflow := s.enqueueLocked(&Message{Topic: "a", QoS: QoS0, Payload: []byte("3")})

	if overflow != nil {
		t.Fatal("dropping the oldest QoS 0 entry must not require a disconnect")
	}
	if len(s.pending) != 2 || string(s.pending[0].Payload) != "2" {
		t.Fatalf("expected oldest entry dropped, queue: %v", s.pending)
	}
}

func TestSessionEnqueueSignalsDisconnectOnQoS1Overflow(t *testing.T) {
	s := newSession("c1", false, 1)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueueLocked(&Message{Topic: "a", QoS: QoS1, Payload: []byte("1")})
	overflow := s.enqueueLocked(&Message{Topic: "a", QoS: QoS1, Payload: []byte("2")})

	if overflow == nil || !overflow.mustDisconnect {
		t.Fatal("a QoS 1 message must never be silently dropped on overflow")
	}
}

func TestSessionAllocIDSkipsInUse(t *testing.T) {
	s := newSession("c1", false, 10)
	s.inflightOut[1] = &outFlow{}
	id := s.allocID()
	if id == 1 {
		t.Fatal("allocID must not reuse an id already in flight")
	}
}
