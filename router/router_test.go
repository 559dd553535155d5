package router

import (
	"errors"
	"testing"

	"github.com/conikeec/mcpr/transport"
)

func pipeOnlyTransports() transport.Config {
	return transport.Config{
		Pipe: &transport.PipeConfig{Command: "cat"},
	}
}

func TestNewRequiresDefaultKind(t *testing.T) {
	_, err := New(Config{Transports: pipeOnlyTransports()})
	var cfgErr *transport.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want *transport.ConfigError, got %v", err)
	}
}

func TestNewRejectsUnknownKinds(t *testing.T) {
	_, err := New(Config{Default: "carrier-pigeon", Transports: pipeOnlyTransports()})
	var cfgErr *transport.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("unknown default kind: want *transport.ConfigError, got %v", err)
	}

	_, err = New(Config{
		Default:      transport.KindPipe,
		Capabilities: map[Capability]transport.Kind{CapabilityTool: "telegraph"},
		Transports:   pipeOnlyTransports(),
	})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("unknown bound kind: want *transport.ConfigError, got %v", err)
	}
}

func TestNewValidatesEverySectionBeforeDialing(t *testing.T) {
	// The socket binding references a section that is absent entirely; the
	// error must surface at construction, not at first call.
	_, err := New(Config{
		Default:      transport.KindPipe,
		Capabilities: map[Capability]transport.Kind{CapabilityResource: transport.KindSocket},
		Transports:   pipeOnlyTransports(),
	})
	var cfgErr *transport.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want *transport.ConfigError, got %v", err)
	}
	if cfgErr.Kind != transport.KindSocket {
		t.Errorf("error names kind %q, want %q", cfgErr.Kind, transport.KindSocket)
	}

	// An incomplete section is just as fatal as a missing one.
	_, err = New(Config{
		Default: transport.KindPipe,
		Transports: transport.Config{
			Pipe: &transport.PipeConfig{},
		},
	})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("empty pipe command: want *transport.ConfigError, got %v", err)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r, err := New(Config{
		Default:      transport.KindPipe,
		Capabilities: map[Capability]transport.Kind{CapabilityTool: transport.KindSocket},
		Transports: transport.Config{
			Pipe:   &transport.PipeConfig{Command: "cat"},
			Socket: &transport.SocketConfig{URL: "ws://127.0.0.1:9/rpc"},
		},
	})
	if err != nil {
		t.Fatalf("building router: %v", err)
	}

	if got := r.Binding(CapabilityTool); got != transport.KindSocket {
		t.Errorf("tool binding = %s, want socket", got)
	}
	for _, capability := range []Capability{CapabilityResource, CapabilityPrompt, CapabilityAuth} {
		if got := r.Binding(capability); got != transport.KindPipe {
			t.Errorf("%s binding = %s, want pipe fallback", capability, got)
		}
	}
}

func TestSharedKindSharesConnection(t *testing.T) {
	r, err := New(Config{
		Default: transport.KindPipe,
		Capabilities: map[Capability]transport.Kind{
			CapabilityTool:     transport.KindPipe,
			CapabilityResource: transport.KindPipe,
		},
		Transports: pipeOnlyTransports(),
	})
	if err != nil {
		t.Fatalf("building router: %v", err)
	}

	if len(r.Connections()) != 1 {
		t.Fatalf("connections = %d, want 1 shared", len(r.Connections()))
	}
	if r.Resolve(CapabilityTool) != r.Resolve(CapabilityResource) {
		t.Error("tool and resource resolve to different connections despite same kind")
	}
	if r.Resolve(CapabilityPrompt) != r.Resolve(CapabilityTool) {
		t.Error("fallback capability got its own connection")
	}
}

func TestDistinctKindsGetDistinctConnections(t *testing.T) {
	r, err := New(Config{
		Default: transport.KindPipe,
		Capabilities: map[Capability]transport.Kind{
			CapabilityTool: transport.KindSocket,
			CapabilityAuth: transport.KindStream,
		},
		Transports: transport.Config{
			Pipe:   &transport.PipeConfig{Command: "cat"},
			Socket: &transport.SocketConfig{URL: "ws://127.0.0.1:9/rpc"},
			Stream: &transport.StreamConfig{
				EventsURL:  "http://127.0.0.1:9/events",
				RequestURL: "http://127.0.0.1:9/rpc",
			},
		},
	})
	if err != nil {
		t.Fatalf("building router: %v", err)
	}

	if len(r.Connections()) != 3 {
		t.Fatalf("connections = %d, want 3", len(r.Connections()))
	}
	tool := r.Resolve(CapabilityTool)
	auth := r.Resolve(CapabilityAuth)
	fallback := r.Resolve(CapabilityPrompt)
	if tool == auth || tool == fallback || auth == fallback {
		t.Error("distinct kinds share a connection")
	}
	if tool.TransportKind() != transport.KindSocket {
		t.Errorf("tool rides %s, want socket", tool.TransportKind())
	}
	if fallback.TransportKind() != transport.KindPipe {
		t.Errorf("fallback rides %s, want pipe", fallback.TransportKind())
	}
}
