package framework

import (
	"errors"
	"testing"
)

func TestServiceState_String(t *testing.T) {
	tests := []struct {
		state    ServiceState
		expected string
	}{
		{StateUninitialized, "uninitialized"},
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{StateNotReady, "not-ready"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{ServiceState(99), "unknown"},
	}

	for _, tc := range tests {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("ServiceState(%d).String() = %q, want %q", tc.state, got, tc.expected)
		}
	}
}

func TestNewServiceBase(t *testing.T) {
	b := NewServiceBase("retry-drain")

	if b.Name() != "retry-drain" {
		t.Errorf("Name() = %q, want %q", b.Name(), "retry-drain")
	}
	if b.State() != StateUninitialized {
		t.Errorf("State() = %v, want %v", b.State(), StateUninitialized)
	}
}

func TestServiceBase_MarkReadyAndNotReady(t *testing.T) {
	b := NewServiceBase("stuck-detector")
	if b.IsReady() {
		t.Fatalf("expected not ready before MarkReady")
	}

	b.MarkReady(true)
	if !b.IsReady() {
		t.Errorf("expected ready after MarkReady(true)")
	}
	if err := b.Ready(nil); err != nil {
		t.Errorf("Ready() = %v, want nil", err)
	}

	b.MarkReady(false)
	if b.IsReady() {
		t.Errorf("expected not ready after MarkReady(false)")
	}
	if err := b.Ready(nil); err == nil {
		t.Errorf("Ready() = nil, want error when not ready")
	}
}

func TestServiceBase_MarkFailedSurfacesError(t *testing.T) {
	b := NewServiceBase("recovery-loop")
	want := errors.New("resolver unavailable")
	b.MarkFailed(want)

	if got := b.LastError(); got != want {
		t.Errorf("LastError() = %v, want %v", got, want)
	}
	err := b.Ready(nil)
	if err == nil {
		t.Fatalf("Ready() = nil, want error after MarkFailed")
	}
}

func TestServiceBase_StartStopUptime(t *testing.T) {
	b := NewServiceBase("poller")
	b.MarkStarted()
	if !b.IsReady() {
		t.Errorf("expected ready after MarkStarted")
	}
	b.MarkStopped()
	if b.State() != StateStopped {
		t.Errorf("State() = %v, want %v", b.State(), StateStopped)
	}
	if b.Uptime() < 0 {
		t.Errorf("Uptime() = %v, want >= 0", b.Uptime())
	}
}

func TestServiceBase_Metadata(t *testing.T) {
	b := NewServiceBase("drain")
	b.SetMetadata("queue", "notification-retry")

	v, ok := b.GetMetadata("queue")
	if !ok || v != "notification-retry" {
		t.Errorf("GetMetadata(queue) = (%q, %v), want (notification-retry, true)", v, ok)
	}

	if _, ok := b.GetMetadata("missing"); ok {
		t.Errorf("GetMetadata(missing) ok = true, want false")
	}
}
