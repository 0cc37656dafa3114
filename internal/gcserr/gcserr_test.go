package gcserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndErrorString(t *testing.T) {
	err := New(KindNotFound, "uav_14550", "unknown uav_id")
	want := "NotFound: uav_14550: unknown uav_id"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorStringWithoutUAVID(t *testing.T) {
	err := New(KindParseError, "", "malformed json")
	want := "ParseError: malformed json"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorsIsMatchesByKindNotMessage(t *testing.T) {
	err := New(KindMissionInProgress, "uav_14550", "mission already running")
	if !errors.Is(err, MissionInProgress) {
		t.Error("errors.Is should match on Kind alone")
	}
	if errors.Is(err, NotFound) {
		t.Error("errors.Is should not match a different Kind")
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	inner := fmt.Errorf("udp write failed")
	err := Wrap(KindTransportError, "uav_14550", inner, "send heartbeat")

	if !errors.Is(err, TransportError) {
		t.Error("Wrap should produce an error matching its Kind")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should unwrap to the wrapped error")
	}
}

func TestAsRecoversConcreteError(t *testing.T) {
	err := New(KindProtocolTimeout, "uav_14550", "timed out")

	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("errors.As should recover *Error")
	}
	if target.Kind != KindProtocolTimeout {
		t.Errorf("Kind = %v, want ProtocolTimeout", target.Kind)
	}
}
