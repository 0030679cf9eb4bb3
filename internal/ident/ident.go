// Package ident generates and parses the prefixed resource identifiers used
// across the API. Identifiers are lexically sortable in generation order:
// the suffix is a fixed-width millisecond timestamp, a per-millisecond
// counter and a random tail, so string comparison matches creation order.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Resource id prefixes.
const (
	PrefixThread    = "thread"
	PrefixMessage   = "msg"
	PrefixRun       = "run"
	PrefixAssistant = "asst"
	PrefixFile      = "file"
	PrefixWorkflow  = "workflow"
	PrefixMCPConfig = "mcp_config"
	PrefixWfExec    = "wfexec"
)

// Suffix layout: 13 decimal digits of unix milliseconds, 4 hex digits of the
// per-millisecond counter, 12 hex digits of randomness.
const (
	msDigits      = 13
	counterDigits = 4
	randDigits    = 12
	suffixLen     = msDigits + counterDigits + randDigits
)

var idPattern = regexp.MustCompile(`^[a-z][a-z_]*_[0-9]{13}[0-9a-f]{16}$`)

var gen struct {
	mu      sync.Mutex
	lastMS  int64
	counter int
}

// New returns a fresh identifier for the given prefix. Identifiers produced
// by one process are strictly increasing under lexical comparison.
func New(prefix string) string {
	ms, counter := nextStamp()
	return fmt.Sprintf("%s_%0*d%0*x%s", prefix, msDigits, ms, counterDigits, counter, randHex(randDigits/2))
}

func nextStamp() (int64, int) {
	gen.mu.Lock()
	defer gen.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms > gen.lastMS {
		gen.lastMS = ms
		gen.counter = 0
		return gen.lastMS, gen.counter
	}

	gen.counter++
	if gen.counter > 0xffff {
		// Counter exhausted within one millisecond; borrow from the next.
		gen.lastMS++
		gen.counter = 0
	}
	return gen.lastMS, gen.counter
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("ident: read random: %v", err))
	}
	return hex.EncodeToString(b)
}

// StripPrefix returns the raw suffix of an identifier. The suffix alphabet
// contains no underscore, so the last underscore always separates prefix
// from suffix.
func StripPrefix(id string) (string, error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return "", fmt.Errorf("malformed identifier %q", id)
	}
	return id[i+1:], nil
}

// AddPrefix rebuilds a full identifier from a prefix and a raw suffix.
// AddPrefix(p, StripPrefix(id)) == id for any id carrying prefix p.
func AddPrefix(prefix, raw string) string {
	return prefix + "_" + raw
}

// Prefix returns the resource-kind prefix of an identifier.
func Prefix(id string) (string, error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return "", fmt.Errorf("malformed identifier %q", id)
	}
	return id[:i], nil
}

// IsValid reports whether id matches the generated identifier shape.
func IsValid(id string) bool {
	return idPattern.MatchString(id)
}

// HasPrefix reports whether id carries the given resource prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && len(id) == len(prefix)+1+suffixLen
}

// Time recovers the creation timestamp embedded in an identifier,
// millisecond precision.
func Time(id string) (time.Time, error) {
	raw, err := StripPrefix(id)
	if err != nil {
		return time.Time{}, err
	}
	if len(raw) != suffixLen {
		return time.Time{}, fmt.Errorf("malformed identifier suffix %q", raw)
	}
	ms, err := strconv.ParseInt(raw[:msDigits], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed identifier timestamp: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// EncodeUnix converts a timestamp to epoch seconds for the wire. Sub-second
// precision is truncated; the round trip through DecodeUnix loses only that.
func EncodeUnix(t time.Time) int64 {
	return t.Unix()
}

// EncodeUnixPtr converts an optional timestamp to optional epoch seconds.
func EncodeUnixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}

// DecodeUnix converts epoch seconds back to a UTC timestamp.
func DecodeUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
