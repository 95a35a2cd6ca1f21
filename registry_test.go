package main

import (
	"testing"
	"unicode/utf8"
)

func TestRegistryCreateLookupDelete(t *testing.T) {
	r := newRegistry(5)

	s := r.create("conn-1")
	if s.phase != phaseLobby {
		t.Fatalf("new session phase = %s, want lobby", s.phase)
	}
	if s.hostConnID != "conn-1" {
		t.Fatalf("hostConnID = %s, want conn-1", s.hostConnID)
	}
	if utf8.RuneCountInString(s.code) != 5 {
		t.Fatalf("code %q has %d runes, want 5", s.code, utf8.RuneCountInString(s.code))
	}

	got, err := r.lookup(s.code)
	if err != nil {
		t.Fatalf("lookup err: %v", err)
	}
	if got != s {
		t.Fatal("lookup returned a different session")
	}

	r.delete(s.code)
	if _, err := r.lookup(s.code); err != errSessionNotFound {
		t.Fatalf("lookup after delete err = %v, want %v", err, errSessionNotFound)
	}
	if r.len() != 0 {
		t.Fatalf("registry len = %d, want 0", r.len())
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := newRegistry(5)

	if _, err := r.lookup("なし"); err != errSessionNotFound {
		t.Fatalf("err = %v, want %v", err, errSessionNotFound)
	}
}

func TestRegistryCodesAreUnique(t *testing.T) {
	// Single-rune codes force the collision loop to earn its keep.
	r := newRegistry(1)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s := r.create("conn")
		if seen[s.code] {
			t.Fatalf("duplicate code %q issued", s.code)
		}
		seen[s.code] = true
	}
}
