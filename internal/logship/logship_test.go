package logship

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func TestWriteLandsOnList(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	w, err := New(context.Background(), "redis://"+mr.Addr(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	log := zerolog.New(w)
	log.Info().Str("component", "test").Msg("hello")

	lines, err := mr.List(DefaultKey)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("list holds %d lines, want 1", len(lines))
	}
	if lines[0] == "" || lines[0][0] != '{' {
		t.Errorf("line %q is not a JSON object", lines[0])
	}
}

func TestListCapped(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	w, err := New(context.Background(), "redis://"+mr.Addr(), Options{Key: "logs", Cap: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 12; i++ {
		if _, err := fmt.Fprintf(w, `{"n":%d}`, i); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	lines, err := mr.List("logs")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(lines) != 5 {
		t.Fatalf("list holds %d lines, want the 5 newest", len(lines))
	}
	if lines[4] != `{"n":11}` {
		t.Errorf("newest line = %q", lines[4])
	}
	if lines[0] != `{"n":7}` {
		t.Errorf("oldest kept line = %q", lines[0])
	}
}

func TestTTLRefreshed(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	w, err := New(context.Background(), "redis://"+mr.Addr(), Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte(`{"msg":"x"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if ttl := mr.TTL(DefaultKey); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
}

func TestFailuresCountedNotReturned(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	w, err := New(context.Background(), "redis://"+mr.Addr(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()
	mr.Close()

	n, err := w.Write([]byte(`{"msg":"lost"}`))
	if err != nil {
		t.Errorf("Write() error = %v, want nil on a dead backend", err)
	}
	if n != len(`{"msg":"lost"}`) {
		t.Errorf("written = %d, want the full length", n)
	}
	if w.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", w.Dropped())
	}
}

func TestDistinctWriterIDs(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	a, err := New(context.Background(), "redis://"+mr.Addr(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	b, err := New(context.Background(), "redis://"+mr.Addr(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	if a.ID() == b.ID() || a.ID() == "" {
		t.Errorf("writer ids %q and %q are not distinct", a.ID(), b.ID())
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), "://nope", Options{}); err == nil {
		t.Error("New() accepted a malformed URL")
	}
}
