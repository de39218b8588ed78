package client

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, err := s.Load(); ok || err != nil {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}
	pair := TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600}
	if err := s.Save(pair); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil || !ok || got != pair {
		t.Fatalf("load = %+v ok=%v err=%v", got, ok, err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Load(); ok {
		t.Fatal("pair survived clear")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStore(path)

	if _, ok, err := s.Load(); ok || err != nil {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}
	pair := TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600}
	if err := s.Save(pair); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load()
	if err != nil || !ok || got != pair {
		t.Fatalf("load = %+v ok=%v err=%v", got, ok, err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Load(); ok {
		t.Fatal("pair survived clear")
	}
	// Clearing an already-missing file is fine.
	if err := s.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
