package broker

import "testing"

func TestRetainedStoreAndMatch(t *testing.T) {
	s := newRetainedStore()
	s.store(&Message{Topic: "a/b", Payload: []byte("hello"), Retain: true})

	got := s.matching("a/+")
	if len(got) != 1 || string(got[0].Payload) != "hello" {
		t.Fatalf("expected one retained match, got %v", got)
	}
}

func TestRetainedEmptyPayloadClears(t *testing.T) {
	s := newRetainedStore()
	s.store(&Message{Topic: "a/b", Payload: []byte("hello"), Retain: true})
	s.store(&Message{Topic: "a/b", Payload: nil, Retain: true})

	if s.count() != 0 {
		t.Fatalf("want 0 retained messages after empty-payload clear, got %d", s.count())
	}
}

func TestRetainedMatchReturnsDistinctMessageStructs(t *testing.T) {
	s := newRetainedStore()
	s.store(&Message{Topic: "a/b", Payload: []byte("hello"), Retain: true})

	a := s.matching("a/b")
	b := s.matching("a/b")
	if a[0] == b[0] {
		t.Fatal("each call should hand back a distinct *Message, payload may still be shared by reference")
	}
}
