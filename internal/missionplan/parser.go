// Package missionplan converts a QGroundControl .plan JSON document
// into mission items plus map display waypoints. Coordinates within
// 1e-7 of zero are treated as absent; a coordless LAND or RTL item
// routes the displayed track back to the planned home position.
package missionplan

import (
	"encoding/json"
	"math"

	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/uav"
)

const coordEpsilon = 1e-7

const (
	cmdNavLand = 20
	cmdNavRTL  = 82
)

// MAV_FRAME_GLOBAL_RELATIVE_ALT, the default frame for a plan item that
// doesn't specify one.
const defaultFrame = 3

// Waypoint is a [lat, lon] pair for map rendering.
type Waypoint [2]float64

// planDoc mirrors the QGC .plan JSON shape.
type planDoc struct {
	Mission struct {
		Items []struct {
			Type         string     `json:"type"`
			Command      uint16     `json:"command"`
			Frame        *uint8     `json:"frame"`
			AutoContinue *bool      `json:"autoContinue"`
			Params       [7]float64 `json:"params"`
			Altitude     *float64   `json:"Altitude"`
			DoJumpID     *int       `json:"doJumpId"`
		} `json:"items"`
		PlannedHomePosition *[3]float64 `json:"plannedHomePosition"`
	} `json:"mission"`
}

// Result is what Parse returns: mission items for upload plus waypoints
// for map display, and the raw home position if the plan carried one.
type Result struct {
	Items     []uav.Item
	Waypoints []Waypoint
	HomeLat   *float64
	HomeLon   *float64
	HomeAlt   *float64
}

func nearZero(v float64) bool {
	return math.Abs(v) <= coordEpsilon
}

// Parse parses raw .plan JSON bytes into items + waypoints.
func Parse(raw []byte) (*Result, error) {
	var doc planDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, gcserr.Wrap(gcserr.KindParseError, "", err, "malformed .plan JSON")
	}

	res := &Result{}

	var home *[3]float64
	if doc.Mission.PlannedHomePosition != nil {
		h := *doc.Mission.PlannedHomePosition
		if !nearZero(h[0]) && !nearZero(h[1]) {
			home = &h
			res.HomeLat, res.HomeLon, res.HomeAlt = &h[0], &h[1], &h[2]
		}
	}

	needReturnHome := false

	for i, it := range doc.Mission.Items {
		if it.Type != "SimpleItem" {
			continue
		}

		params := it.Params // already a fixed [7]float64 from json

		lat, lon := params[4], params[5]
		alt := params[6]
		if alt == 0 && it.Altitude != nil {
			alt = *it.Altitude
		}

		coordsPresent := !nearZero(lat) || !nearZero(lon)

		item := uav.Item{
			Command:      it.Command,
			AutoContinue: true,
		}
		if it.AutoContinue != nil {
			item.AutoContinue = *it.AutoContinue
		}
		if it.Frame != nil {
			item.Frame = *it.Frame
		} else {
			item.Frame = defaultFrame
		}
		if it.DoJumpID != nil {
			item.Seq = *it.DoJumpID
		} else {
			item.Seq = i
		}
		for p := range params {
			item.Params[p] = float32(params[p])
		}

		if coordsPresent {
			item.Lat, item.Lon = &lat, &lon
			item.Alt = &alt
			res.Waypoints = append(res.Waypoints, Waypoint{lat, lon})
		} else if it.Command == cmdNavLand || it.Command == cmdNavRTL {
			needReturnHome = true
		}

		res.Items = append(res.Items, item)
	}

	if needReturnHome && home != nil && len(res.Waypoints) > 0 {
		last := res.Waypoints[len(res.Waypoints)-1]
		if math.Abs(last[0]-home[0]) > coordEpsilon || math.Abs(last[1]-home[1]) > coordEpsilon {
			res.Waypoints = append(res.Waypoints, Waypoint{home[0], home[1]})
		}
	}

	return res, nil
}

// HomeFromRaw extracts mission.plannedHomePosition from a cached raw
// plan document (the record's plan_raw field). Returns nils when the
// document carries no valid home: absent, wrong shape, or near-zero
// coordinates.
func HomeFromRaw(doc map[string]interface{}) (lat, lon, alt *float64) {
	mission, ok := doc["mission"].(map[string]interface{})
	if !ok {
		return nil, nil, nil
	}
	pos, ok := mission["plannedHomePosition"].([]interface{})
	if !ok || len(pos) < 2 {
		return nil, nil, nil
	}
	coords := make([]float64, 0, 3)
	for _, v := range pos[:min(len(pos), 3)] {
		f, ok := v.(float64)
		if !ok {
			return nil, nil, nil
		}
		coords = append(coords, f)
	}
	if nearZero(coords[0]) || nearZero(coords[1]) {
		return nil, nil, nil
	}
	lat, lon = &coords[0], &coords[1]
	if len(coords) == 3 {
		alt = &coords[2]
	}
	return lat, lon, alt
}
