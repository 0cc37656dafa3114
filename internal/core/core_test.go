package core

import (
	"errors"
	"testing"

	"github.com/Legell/UAV-System/internal/discovery"
	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/heartbeatmon"
	"github.com/Legell/UAV-System/internal/registry"
	"github.com/Legell/UAV-System/internal/uav"
)

func newTestCore(t *testing.T) (*Core, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	disc := discovery.New(reg, discovery.Config{})
	mon := heartbeatmon.New(reg, 0, 0)
	return New(reg, disc, mon, Timeouts{}), reg
}

func TestSetMissionThenGetMissionRoundTrip(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)

	items := []uav.Item{
		{Seq: 0, Command: 16, Frame: 3, AutoContinue: true},
		{Seq: 1, Command: 22, Frame: 3, AutoContinue: true},
	}
	if err := c.SetMission("uav_14550", items); err != nil {
		t.Fatalf("SetMission: %v", err)
	}

	got, err := c.GetMission("uav_14550")
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("round-trip length mismatch: got %d, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("item %d = %+v, want %+v", i, got[i], items[i])
		}
	}
}

func TestGetMissionUnknownUAV(t *testing.T) {
	c, _ := newTestCore(t)
	if _, err := c.GetMission("uav_99999"); !errors.Is(err, gcserr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestListUAVsSortedByPort(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14551", "b", 14551), nil)
	reg.Insert(uav.NewRecord("uav_14550", "a", 14550), nil)

	list := c.ListUAVs()
	if len(list) != 2 || list[0].Port != 14550 || list[1].Port != 14551 {
		t.Errorf("ListUAVs not sorted by port: %+v", list)
	}
}

func TestStartMissionRejectsWhenAlreadyRunning(t *testing.T) {
	c, reg := newTestCore(t)
	rec := uav.NewRecord("uav_14550", "test", 14550)
	rec.MissionStatus = uav.MissionRunning
	rec.Mission = []uav.Item{{Seq: 0, Command: 16}}
	reg.Insert(rec, nil)

	err := c.StartMission("uav_14550", 10)
	if !errors.Is(err, gcserr.MissionInProgress) {
		t.Errorf("expected MissionInProgress, got %v", err)
	}
}

func TestStartMissionRejectsWhenEmpty(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)

	err := c.StartMission("uav_14550", 10)
	if !errors.Is(err, gcserr.MissionEmpty) {
		t.Errorf("expected MissionEmpty, got %v", err)
	}
}

func TestStartMissionUnknownUAV(t *testing.T) {
	c, _ := newTestCore(t)
	err := c.StartMission("uav_99999", 10)
	if !errors.Is(err, gcserr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUploadPlanUnknownUAV(t *testing.T) {
	c, _ := newTestCore(t)
	_, err := c.UploadPlan("uav_99999", []byte(`{"mission":{"items":[]}}`))
	if !errors.Is(err, gcserr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUploadPlanCachesItemsAndPlanRaw(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)

	plan := []byte(`{"mission":{"items":[{"type":"SimpleItem","command":16,"params":[0,0,0,0,55.0,37.0,10]}]}}`)
	result, err := c.UploadPlan("uav_14550", plan)
	if err != nil {
		t.Fatalf("UploadPlan: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 parsed item, got %d", len(result.Items))
	}

	rec, _ := reg.Get("uav_14550")
	if len(rec.Mission) != 1 {
		t.Errorf("UploadPlan should cache parsed items on the record, got %d", len(rec.Mission))
	}
	if rec.PlanRaw == nil {
		t.Error("UploadPlan should cache plan_raw on the record")
	}
	if _, ok := rec.PlanRaw["mission"]; !ok {
		t.Error("plan_raw should hold the parsed .plan document, not a marker")
	}
}

func TestSetTelemetryEnabled(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)

	if err := c.SetTelemetryEnabled("uav_14550", false); err != nil {
		t.Fatalf("SetTelemetryEnabled: %v", err)
	}
	rec, _ := reg.Get("uav_14550")
	if rec.TelemetryEnabled {
		t.Error("TelemetryEnabled should be false after disable")
	}

	if err := c.SetTelemetryEnabled("uav_99999", false); !errors.Is(err, gcserr.NotFound) {
		t.Errorf("expected NotFound for unknown uav_id, got %v", err)
	}
}

func TestUploadPlanMalformedJSON(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)

	_, err := c.UploadPlan("uav_14550", []byte("not json"))
	if !errors.Is(err, gcserr.ParseError) {
		t.Errorf("expected ParseError, got %v", err)
	}
}

func TestUploadPlanPrependsCurrentPosition(t *testing.T) {
	c, reg := newTestCore(t)
	rec := uav.NewRecord("uav_14550", "test", 14550)
	rec.Lat, rec.Lon = 10.0, 20.0
	reg.Insert(rec, nil)

	plan := []byte(`{"mission":{"items":[{"type":"SimpleItem","command":16,"params":[0,0,0,0,55.0,37.0,10]}]}}`)
	result, err := c.UploadPlan("uav_14550", plan)
	if err != nil {
		t.Fatalf("UploadPlan: %v", err)
	}
	if len(result.Waypoints) != 2 || result.Waypoints[0] != [2]float64{10.0, 20.0} {
		t.Errorf("expected current position prepended, got %v", result.Waypoints)
	}
}

// TestDisconnectWithoutOpenLink covers the idempotent case: the record
// exists but its Link was already closed/removed (e.g. a second
// Disconnect call). Disconnect must still mark the record offline
// instead of failing on the absent Link.
func TestDisconnectWithoutOpenLink(t *testing.T) {
	c, reg := newTestCore(t)
	reg.Insert(uav.NewRecord("uav_14550", "test", 14550), nil)
	reg.RemoveLink("uav_14550")

	if err := c.Disconnect("uav_14550"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	rec, err := reg.Get("uav_14550")
	if err != nil {
		t.Fatalf("record should be retained after Disconnect: %v", err)
	}
	if rec.Connected {
		t.Error("Connected should be false after Disconnect")
	}
	if rec.Status != uav.StatusOffline {
		t.Errorf("Status = %s, want offline", rec.Status)
	}
}
