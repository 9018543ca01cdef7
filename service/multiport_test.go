package service

import "testing"

func TestExpandListenAddrSinglePort(t *testing.T) {
	got, err := expandListenAddr("example.com:2000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "example.com:2000" {
		t.Fatalf("expected [example.com:2000], got %v", got)
	}
}

func TestExpandListenAddrRange(t *testing.T) {
	got, err := expandListenAddr("0.0.0.0:2000-2003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"0.0.0.0:2000", "0.0.0.0:2001", "0.0.0.0:2002", "0.0.0.0:2003"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestExpandListenAddrNonAddressPassesThrough(t *testing.T) {
	got, err := expandListenAddr("/tmp/unix.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "/tmp/unix.sock" {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestExpandListenAddrInvalidRange(t *testing.T) {
	tests := []string{
		"example.com:0-2000",
		"example.com:70000",
		"example.com:3000-2000",
		"example.com:65534-70000",
	}
	for _, addr := range tests {
		if _, err := expandListenAddr(addr); err == nil {
			t.Fatalf("expandListenAddr(%q) expected error", addr)
		}
	}
}
