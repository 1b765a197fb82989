package audit

import "testing"

func TestChainVerifies(t *testing.T) {
	l := New()
	l.Append("alice", "note/create", "n1")
	l.Append("alice", "note/update", "n1")
	l.Append("bob", "key/create", "k1")
	if err := l.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n := len(l.Entries()); n != 3 {
		t.Fatalf("got %d entries", n)
	}
}

func TestTamperDetected(t *testing.T) {
	l := New()
	l.Append("alice", "note/create", "n1")
	l.Append("alice", "note/delete", "n1")
	entries := l.Entries()
	entries[0].Target = "n2"
	if err := VerifyEntries(entries); err == nil {
		t.Fatalf("expected tampered chain to fail")
	}
}
