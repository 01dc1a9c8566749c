package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/teamwork/chat-go/internal/chattest"
)

func TestSeed(t *testing.T) {
	t.Parallel()

	srv := chattest.New(chattest.Config{Logger: zerolog.Nop()})
	if err := seed(srv); err != nil {
		t.Fatalf("seed() error = %v", err)
	}
	// Seeding twice must trip the duplicate-handle guard.
	if err := seed(srv); err == nil {
		t.Error("re-seeding did not report duplicate handles")
	}
}
