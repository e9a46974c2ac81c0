package broker

import "testing"

func TestTrieSubscribeMatch(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/b/c", QoS1)

	got := tr.match("a/b/c")
	if got["c1"] != QoS1 {
		t.Fatalf("want qos1, got %v", got)
	}
}

func TestTrieWildcardSingleLevel(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/+/c", QoS0)

	if _, ok := tr.match("a/b/c")["c1"]; !ok {
		t.Fatal("expected + to match one level")
	}
	if _, ok := tr.match("a/b/x/c")["c1"]; ok {
		t.Fatal("+ must not match multiple levels")
	}
}

func TestTrieWildcardMultiLevel(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/#", QoS0)

	if _, ok := tr.match("a/b/c/d")["c1"]; !ok {
		t.Fatal("expected # to match remaining levels")
	}
	if _, ok := tr.match("a")["c1"]; !ok {
		t.Fatal("expected # to also match its parent level")
	}
}

func TestTrieHashDoesNotMatchDollarPrefixedAtLevelZero(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "#", QoS0)

	if _, ok := tr.match("$SYS/broker/uptime")["c1"]; ok {
		t.Fatal("# at level 0 must not match a $-prefixed topic")
	}

	tr.subscribe("c2", "$SYS/#", QoS0)
	if _, ok := tr.match("$SYS/broker/uptime")["c2"]; !ok {
		t.Fatal("an explicit $SYS/# subscription must match")
	}
}

func TestTrieDedupMergesMaxQoS(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/#", QoS0)
	tr.subscribe("c1", "a/b", QoS2)

	got := tr.match("a/b")
	if got["c1"] != QoS2 {
		t.Fatalf("want the higher of the two matching subscriptions' qos (2), got %d", got["c1"])
	}
}

func TestTrieUnsubscribePrunesEmptyNodes(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/b/c", QoS0)
	if !tr.unsubscribe("c1", "a/b/c") {
		t.Fatal("expected unsubscribe to report removal")
	}
	if tr.count() != 0 {
		t.Fatalf("want 0 subscriptions after unsubscribe, got %d", tr.count())
	}
}

func TestTrieRemoveSession(t *testing.T) {
	tr := newTrie()
	tr.subscribe("c1", "a/b", QoS0)
	tr.subscribe("c1", "x/y", QoS1)
	tr.subscribe("c2", "a/b", QoS0)

	tr.removeSession("c1")

	if tr.count() != 1 {
		t.Fatalf("want 1 remaining subscription, got %d", tr.count())
	}
	if _, ok := tr.match("a/b")["c1"]; ok {
		t.Fatal("c1 should have no subscriptions left")
	}
	if _, ok := tr.match("a/b")["c2"]; !ok {
		t.Fatal("c2's subscription should be untouched")
	}
}
