package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("DUALANE_OTEL_STDOUT", "")
	if Enabled() {
		t.Fatal("expected telemetry disabled")
	}
	if err := Init(context.Background(), "dualane", "test"); err != nil {
		t.Fatal(err)
	}
	counter, err := Meter("").Int64Counter("test.counter")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(context.Background(), 1)

	_, span := Tracer("").Start(context.Background(), "noop")
	span.End()
	Shutdown(context.Background())
}

func TestEnabledReadsEnvironment(t *testing.T) {
	t.Setenv("DUALANE_OTEL_STDOUT", "true")
	if !Enabled() {
		t.Fatal("expected telemetry enabled")
	}
}
