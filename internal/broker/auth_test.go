package broker

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func writeAuthFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing auth file: %v", err)
	}
	return path
}

func TestAuthenticateAnonymousWithoutFile(t *testing.T) {
	a, err := NewAuthenticator(AuthConfig{AnonymousAllowed: true})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1")}
	if !a.Authenticate(context.Background(), addr, "c1", "", "") {
		t.Fatal("expected anonymous connect to be allowed")
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	path := writeAuthFile(t, `
[[credentials]]
client_id = "c1"
username = "alice"
password = "`+hashPassword("secret")+`"
`)
	a, err := NewAuthenticator(AuthConfig{AuthFilePath: path})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1")}

	if !a.Authenticate(context.Background(), addr, "c1", "alice", "secret") {
		t.Fatal("expected correct credentials to be accepted")
	}
	if a.Authenticate(context.Background(), addr, "c1", "alice", "wrong") {
		t.Fatal("expected incorrect password to be rejected")
	}
}

func TestCheckACLClientRulesTakePrecedence(t *testing.T) {
	path := writeAuthFile(t, `
[[topic_all_rules]]
topic = "#"
access = "read"

[[topic_client_rules]]
client_id = "c1"
[[topic_client_rules.topic_rules]]
topic = "devices/{client_id}/cmd"
access = "readwrite"
`)
	a, err := NewAuthenticator(AuthConfig{AuthFilePath: path})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	if !a.CheckACL("c1", "devices/c1/cmd", AccessWrite) {
		t.Fatal("client-specific rule should grant write on its own topic")
	}
	if a.CheckACL("c1", "other/topic", AccessWrite) {
		t.Fatal("the all-clients rule only grants read, write must be denied")
	}
	if !a.CheckACL("c1", "other/topic", AccessRead) {
		t.Fatal("the all-clients rule grants read on every topic")
	}
}

func TestCheckACLDeniesWithNoMatchingRule(t *testing.T) {
	path := writeAuthFile(t, `
[[topic_all_rules]]
topic = "public/#"
access = "read"
`)
	a, err := NewAuthenticator(AuthConfig{AuthFilePath: path})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if a.CheckACL("c1", "private/secret", AccessRead) {
		t.Fatal("a topic with no matching rule must be denied")
	}
}

func TestCheckACLNoFileMeansUnenforced(t *testing.T) {
	a, err := NewAuthenticator(AuthConfig{AnonymousAllowed: true})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if !a.CheckACL("c1", "anything", AccessWrite) {
		t.Fatal("without an auth file, ACL must not restrict access")
	}
}
