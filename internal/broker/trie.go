package broker

import (
	"sync"

	"github.com/tidemq/broker/internal/topic"
)

// trie is the subscription trie: one node per topic level, with literal,
// "+", and "#" child slots. A node's subscribers map holds every session
// whose filter terminates at that node.
type trie struct {
	mu   sync.RWMutex
	root *trieNode
}

type trieNode struct {
	children    map[string]*trieNode
	subscribers map[string]byte // client_id -> granted qos
}

func newTrie() *trie {
	return &trie{root: newTrieNode()}
}

func newTrieNode() *trieNode {
	return &trieNode{
		children:    make(map[string]*trieNode),
		subscribers: make(map[string]byte),
	}
}

// subscribe inserts or updates a (clientID, filter) subscription. Inserting
// an existing (clientID, filter) pair is idempotent and updates qos.
func (t *trie) subscribe(clientID, filter string, qos byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, level := range topic.Levels(filter) {
		child, ok := node.children[level]
		if !ok {
			child = newTrieNode()
			node.children[level] = child
		}
		node = child
	}
	node.subscribers[clientID] = qos
}

// unsubscribe removes a (clientID, filter) subscription, pruning any node
// left with no subscribers and no children.
func (t *trie) unsubscribe(clientID, filter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := topic.Levels(filter)
	path := make([]*trieNode, 0, len(levels)+1)
	path = append(path, t.root)

	node := t.root
	for _, level := range levels {
		child, ok := node.children[level]
		if !ok {
			return false
		}
		path = append(path, child)
		node = child
	}

	if _, ok := node.subscribers[clientID]; !ok {
		return false
	}
	delete(node.subscribers, clientID)

	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if len(n.subscribers) > 0 || len(n.children) > 0 {
			break
		}
		parent := path[i-1]
		delete(parent.children, levels[i-1])
	}
	return true
}

// removeSession purges every subscription belonging to clientID.
func (t *trie) removeSession(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removeSessionRecursive(t.root, clientID)
}

func removeSessionRecursive(node *trieNode, clientID string) bool {
	delete(node.subscribers, clientID)
	for level, child := range node.children {
		if removeSessionRecursive(child, clientID) {
			delete(node.children, level)
		}
	}
	return len(node.subscribers) == 0 && len(node.children) == 0
}

// match returns, for every session subscribed to a filter matching name,
// the maximum granted qos among its matching subscriptions. A `+` or `#`
// child is never descended at level 0 when name is a $-prefixed topic.
func (t *trie) match(name string) map[string]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]byte)
	levels := topic.Levels(name)
	matchRecursive(t.root, levels, 0, topic.IsSys(name), result)
	return result
}

func matchRecursive(node *trieNode, levels []string, idx int, isSys bool, result map[string]byte) {
	if idx == len(levels) {
		mergeMax(result, node.subscribers)
		if hashNode, ok := node.children["#"]; ok {
			mergeMax(result, hashNode.subscribers)
		}
		return
	}

	level := levels[idx]

	if child, ok := node.children[level]; ok {
		matchRecursive(child, levels, idx+1, isSys, result)
	}

	if isSys && idx == 0 {
		return
	}

	if plusNode, ok := node.children["+"]; ok {
		matchRecursive(plusNode, levels, idx+1, isSys, result)
	}

	if hashNode, ok := node.children["#"]; ok {
		mergeMax(result, hashNode.subscribers)
	}
}

func mergeMax(dst map[string]byte, src map[string]byte) {
	for clientID, qos := range src {
		if cur, ok := dst[clientID]; !ok || qos > cur {
			dst[clientID] = qos
		}
	}
}

// count returns the total number of (clientID, filter) subscriptions.
func (t *trie) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countRecursive(t.root)
}

func countRecursive(node *trieNode) int {
	count := len(node.subscribers)
	for _, child := range node.children {
		count += countRecursive(child)
	}
	return count
}
