package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown := Setup(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), "callqueue", Config{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
}
