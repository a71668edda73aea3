package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func TestFromContextOr(t *testing.T) {
	t.Parallel()

	scoped := slog.New(slog.NewTextHandler(io.Discard, nil))
	fallback := slog.New(slog.NewJSONHandler(io.Discard, nil))

	tests := []struct {
		name     string
		ctx      context.Context
		fallback *slog.Logger
		want     *slog.Logger
	}{
		{name: "context logger wins", ctx: ContextWithLogger(context.Background(), scoped), fallback: fallback, want: scoped},
		{name: "fallback without context logger", ctx: context.Background(), fallback: fallback, want: fallback},
		{name: "default as last resort", ctx: context.Background(), want: slog.Default()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromContextOr(tt.ctx, tt.fallback); got != tt.want {
				t.Fatalf("unexpected logger returned")
			}
		})
	}

	if got := ContextWithLogger(context.Background(), nil); FromContext(got) != nil {
		t.Fatalf("expected nil logger not to be stored")
	}
}

func TestScoped_StacksAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, _ := Scoped(context.Background(), base, "routing_key", "fablab.machines.3")
	ctx, logger := Scoped(ctx, nil, "machine_id", int64(3))
	if FromContext(ctx) != logger {
		t.Fatalf("expected derived logger to be stored in context")
	}

	FromContext(ctx).Info("heartbeat")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["routing_key"] != "fablab.machines.3" || entry["machine_id"] != float64(3) {
		t.Fatalf("expected both scopes in entry, got %v", entry)
	}
}
