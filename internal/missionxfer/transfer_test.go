package missionxfer

import (
	"math"
	"testing"
	"time"

	"github.com/Legell/UAV-System/internal/uav"
)

func TestTimeoutsWithDefaultsFillsZeroFields(t *testing.T) {
	got := Timeouts{Request: 3 * time.Second}.withDefaults()
	if got.Request != 3*time.Second {
		t.Errorf("Request = %v, want explicit value preserved", got.Request)
	}
	if got.Ack != TimeoutAck {
		t.Errorf("Ack = %v, want default %v", got.Ack, TimeoutAck)
	}
}

func ptr(v float64) *float64 { return &v }

func TestPrependHomeValidPosition(t *testing.T) {
	items := []uav.Item{{Seq: 0, Command: 16}}
	out := PrependHome(items, ptr(55.7), ptr(37.5), ptr(30))

	if len(out) != 2 {
		t.Fatalf("expected home item prepended, got %d items", len(out))
	}
	home := out[0]
	if home.Command != cmdNavWaypoint {
		t.Errorf("home Command = %d, want %d (NAV_WAYPOINT)", home.Command, cmdNavWaypoint)
	}
	if home.Frame != 0 {
		t.Errorf("home Frame = %d, want 0 (MAV_FRAME_GLOBAL)", home.Frame)
	}
	if home.Params[4] == 0 || home.Params[5] == 0 {
		t.Errorf("home Params lat/lon not set: %v", home.Params)
	}
}

func TestPrependHomeSkippedForZeroPosition(t *testing.T) {
	items := []uav.Item{{Seq: 0, Command: 16}}
	out := PrependHome(items, ptr(0), ptr(0), ptr(30))
	if len(out) != 1 {
		t.Fatalf("home should not be prepended for (0,0), got %d items", len(out))
	}
}

func TestPrependHomeSkippedForNilCoords(t *testing.T) {
	items := []uav.Item{{Seq: 0, Command: 16}}
	out := PrependHome(items, nil, nil, nil)
	if len(out) != 1 {
		t.Fatalf("home should not be prepended for nil coords, got %d items", len(out))
	}
}

func TestEncodeCoordsCoordlessIsZero(t *testing.T) {
	item := uav.Item{Command: cmdNavLand, Lat: ptr(55.7), Lon: ptr(37.5)}
	x, y, violation, warn := encodeCoords(item)
	if violation || warn || x != 0 || y != 0 {
		t.Errorf("coordless command should encode as (0,0), got x=%d y=%d violation=%v warn=%v", x, y, violation, warn)
	}
}

func TestEncodeCoordsScalesToE7(t *testing.T) {
	item := uav.Item{Command: cmdNavWaypoint, Lat: ptr(55.7), Lon: ptr(37.5)}
	x, y, violation, warn := encodeCoords(item)
	if violation || warn {
		t.Fatalf("unexpected violation=%v warn=%v", violation, warn)
	}
	if x != int32(math.Round(55.7*1e7)) {
		t.Errorf("x = %d, want %d", x, int32(math.Round(55.7*1e7)))
	}
	if y != int32(math.Round(37.5*1e7)) {
		t.Errorf("y = %d, want %d", y, int32(math.Round(37.5*1e7)))
	}
}

func TestEncodeCoordsWaypointMissingCoordsIsViolation(t *testing.T) {
	item := uav.Item{Command: cmdNavWaypoint}
	_, _, violation, _ := encodeCoords(item)
	if !violation {
		t.Error("NAV_WAYPOINT with no coords should be a protocol violation")
	}
}

func TestEncodeCoordsOtherCommandMissingCoordsWarns(t *testing.T) {
	item := uav.Item{Command: 999}
	x, y, violation, warn := encodeCoords(item)
	if violation || x != 0 || y != 0 {
		t.Errorf("unknown command without coords should default to (0,0), got x=%d y=%d violation=%v", x, y, violation)
	}
	if !warn {
		t.Error("unknown command without coords should be flagged for a warning")
	}
}
