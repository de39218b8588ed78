package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProvidersEmptyEndpointIsNoop(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "session-control-plane", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
		t.Fatal("no-op providers should still be non-nil")
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("no-op shutdown: %v", err)
	}
	// Shutdown must be repeatable.
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestNewProvidersWhitespaceEndpointIsNoop(t *testing.T) {
	if _, err := NewProviders(context.Background(), "   ", "session-control-plane", false); err != nil {
		t.Fatalf("NewProviders whitespace endpoint: %v", err)
	}
}

func TestNewProvidersRejectsInvalidEndpoint(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), tc.endpoint, "session-control-plane", false); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestSetGlobal(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "session-control-plane", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}

	oldTracer := otel.GetTracerProvider()
	oldMeter := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracer)
		otel.SetMeterProvider(oldMeter)
	}()

	providers.SetGlobal()

	if otel.GetTracerProvider() == oldTracer {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() == oldMeter {
		t.Error("MeterProvider should be updated")
	}
}

func TestSetGlobalNilProviders(t *testing.T) {
	providers := &Providers{Shutdown: func(context.Context) error { return nil }}
	// Must not panic with nothing to set.
	providers.SetGlobal()
}
