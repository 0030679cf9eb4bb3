package ident

import (
	"sort"
	"testing"
	"time"
)

func TestNewOrdering(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = New(PrefixThread)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("id %d (%s) does not sort after id %d (%s)", i, ids[i], i-1, ids[i-1])
		}
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("generation order differs from lexical order at %d", i)
		}
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(PrefixMessage)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewShape(t *testing.T) {
	for _, prefix := range []string{PrefixThread, PrefixMessage, PrefixRun, PrefixAssistant, PrefixFile, PrefixWorkflow, PrefixMCPConfig, PrefixWfExec} {
		id := New(prefix)
		if !IsValid(id) {
			t.Errorf("generated id %s does not match the identifier pattern", id)
		}
		if !HasPrefix(id, prefix) {
			t.Errorf("id %s does not carry prefix %s", id, prefix)
		}
	}
}

func TestPrefixRoundTrip(t *testing.T) {
	for _, prefix := range []string{PrefixThread, PrefixMCPConfig, PrefixWfExec} {
		id := New(prefix)

		raw, err := StripPrefix(id)
		if err != nil {
			t.Fatalf("StripPrefix(%s): %v", id, err)
		}
		if AddPrefix(prefix, raw) != id {
			t.Errorf("round trip changed id: %s -> %s", id, AddPrefix(prefix, raw))
		}

		got, err := Prefix(id)
		if err != nil {
			t.Fatalf("Prefix(%s): %v", id, err)
		}
		if got != prefix {
			t.Errorf("Prefix(%s) = %s, want %s", id, got, prefix)
		}
	}
}

func TestStripPrefixMalformed(t *testing.T) {
	for _, id := range []string{"", "thread", "_abc", "thread_"} {
		if _, err := StripPrefix(id); err == nil {
			t.Errorf("StripPrefix(%q) should fail", id)
		}
	}
}

func TestTime(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id := New(PrefixRun)
	after := time.Now()

	ts, err := Time(id)
	if err != nil {
		t.Fatalf("Time(%s): %v", id, err)
	}
	if ts.Before(before) || ts.After(after.Add(time.Second)) {
		t.Errorf("embedded time %v outside [%v, %v]", ts, before, after)
	}
}

func TestEncodeDecodeUnix(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 45, 123456789, time.UTC)

	sec := EncodeUnix(now)
	back := DecodeUnix(sec)

	if !back.Equal(now.Truncate(time.Second)) {
		t.Errorf("round trip = %v, want %v", back, now.Truncate(time.Second))
	}
	if back.Nanosecond() != 0 {
		t.Errorf("decoded time keeps sub-second precision: %v", back)
	}

	// Zone-shifted inputs encode to the same instant.
	loc := time.FixedZone("plus2", 2*3600)
	if EncodeUnix(now.In(loc)) != sec {
		t.Errorf("encoding is not zone independent")
	}
}

func TestEncodeUnixPtr(t *testing.T) {
	if EncodeUnixPtr(nil) != nil {
		t.Errorf("EncodeUnixPtr(nil) should be nil")
	}
	now := time.Now()
	got := EncodeUnixPtr(&now)
	if got == nil || *got != now.Unix() {
		t.Errorf("EncodeUnixPtr(%v) = %v", now, got)
	}
}
