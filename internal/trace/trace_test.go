package trace

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestStartSpan_Disabled(t *testing.T) {
	if err := Init(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if Enabled() {
		t.Fatal("tracer installed while disabled")
	}

	ctx, span := StartSpan(context.Background(), "noop")
	End(span, nil)
	if _, ok := TraceID(ctx); ok {
		t.Error("no trace id expected when disabled")
	}
}

func TestStartSpan_ExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Enabled: true, Writer: &buf, Sync: true, Version: "test"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), "engine.RunCycle")
	id, ok := TraceID(ctx)
	if !ok || id == "" {
		t.Fatal("expected a trace id")
	}
	End(span, fmt.Errorf("chain unavailable"))

	out := buf.String()
	for _, want := range []string{"engine.RunCycle", id, "chain unavailable", "oi-lot-manager"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q", want)
		}
	}
}
