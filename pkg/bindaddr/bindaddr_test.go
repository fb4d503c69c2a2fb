package bindaddr

import "testing"

func TestResolveLiteral(t *testing.T) {
	addr, err := Resolve("127.0.0.1", 7511)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "127.0.0.1:7511" {
		t.Fatalf("got %q", addr)
	}
}

func TestResolveWildcard(t *testing.T) {
	addr, err := Resolve("", 7510)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0.0.0.0:7510" {
		t.Fatalf("got %q", addr)
	}
}

func TestResolveHostname(t *testing.T) {
	addr, err := Resolve("localhost", 7510)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "localhost:7510" {
		t.Fatalf("got %q", addr)
	}
}
