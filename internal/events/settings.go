// Package events parses event-settings JSON into a DAG and evaluates ROI,
// Line and AngleViolation rules against per-frame detections.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hailostream/eventd/internal/geom"
)

// EventType is a closed sum type over every event kind the settings JSON can
// name. Each evaluator selects the settings of its own kind by comparing
// Type; there is no interface hierarchy per kind (SPEC_FULL.md 9).
type EventType string

const (
	TypeROI            EventType = "ROI"
	TypeLine           EventType = "Line"
	TypeAngleViolation EventType = "AngleViolation"
	TypeAnd            EventType = "And"
	TypeOr             EventType = "Or"
	TypeSpeed          EventType = "Speed"
	TypeHM             EventType = "HM"
	TypeFilter         EventType = "Filter"
	TypeEnEx           EventType = "EnEx"
	TypeAlarm          EventType = "Alarm"
	TypeUnknown        EventType = "Unknown"
)

// Direction is the line-crossing direction a Line setting watches for.
type Direction string

const (
	DirectionA2B Direction = "A2B"
	DirectionB2A Direction = "B2A"
	DirectionBoth Direction = "BOTH"
)

// Target is the set of class labels an event setting applies to. An empty
// Labels set, or the "ALL" sentinel, matches every detection.
type Target struct {
	Labels []string
}

// Matches reports whether className satisfies this target, case-insensitively.
func (t Target) Matches(className string) bool {
	if len(t.Labels) == 0 {
		return true
	}
	for _, l := range t.Labels {
		if strings.EqualFold(l, "ALL") || strings.EqualFold(l, className) {
			return true
		}
	}
	return false
}

// EventSetting is one node in the event DAG.
type EventSetting struct {
	ID       string
	Name     string
	Type     EventType
	ParentID string
	Points   []geom.NormPoint2D
	Target   Target

	DetectionPoint geom.AnchorKind
	Direction      Direction
	Keypoints      []int
	WarningDistance float32
	AngleThreshold  float32

	Timeout       float64
	InOrder       bool
	NCond         string
	Turn          int
	RegenInterval float64
	Ext           string

	Children []string
}

// rawConfig mirrors the JSON wire shape from SPEC_FULL.md 6.
type rawConfig struct {
	EventSettingID  string          `json:"eventSettingId"`
	EventSettingName string         `json:"eventSettingName"`
	EventType       string          `json:"eventType"`
	ParentID        string          `json:"parentId"`
	Points          [][2]float32    `json:"points"`
	Targets         json.RawMessage `json:"targets"`
	Timeout         float64         `json:"timeout"`
	DetectionPoint  string          `json:"detectionPoint"`
	Direction       string          `json:"direction"`
	Keypoints       []int           `json:"keypoints"`
	WarningDistance float32         `json:"warningDistance"`
	AngleThreshold  float32         `json:"angleThreshold"`
	InOrder         bool            `json:"inOrder"`
	NCond           string          `json:"ncond"`
	Turn            int             `json:"turn"`
	RegenInterval   float64         `json:"regenInterval"`
	Ext             string          `json:"ext"`
}

type rawFile struct {
	Configs []rawConfig `json:"configs"`
}

// parseTargets accepts an array of labels, a single label string, or the
// "ALL"/["ALL"] sentinel, per SPEC_FULL.md 6.
func parseTargets(raw json.RawMessage) (Target, error) {
	if len(raw) == 0 {
		return Target{}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.EqualFold(asString, "ALL") || asString == "" {
			return Target{}, nil
		}
		return Target{Labels: []string{asString}}, nil
	}
	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		for _, v := range asArray {
			if strings.EqualFold(v, "ALL") {
				return Target{}, nil
			}
		}
		return Target{Labels: asArray}, nil
	}
	return Target{}, fmt.Errorf("targets: unsupported JSON shape: %s", string(raw))
}

func parseEventType(s string) EventType {
	switch s {
	case string(TypeROI), string(TypeLine), string(TypeAngleViolation), string(TypeAnd),
		string(TypeOr), string(TypeSpeed), string(TypeHM), string(TypeFilter),
		string(TypeEnEx), string(TypeAlarm):
		return EventType(s)
	default:
		return TypeUnknown
	}
}

func parseDirection(s string) Direction {
	switch strings.ToUpper(s) {
	case "A2B":
		return DirectionA2B
	case "B2A":
		return DirectionB2A
	default:
		return DirectionBoth
	}
}

// ParseSettings parses the event-settings JSON document into the full set
// of EventSetting nodes, keyed by id, with Children populated from ParentID.
func ParseSettings(data []byte) (map[string]*EventSetting, error) {
	var f rawFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse event settings: %w", err)
	}
	settings := make(map[string]*EventSetting, len(f.Configs))
	for _, c := range f.Configs {
		if c.EventSettingID == "" {
			return nil, fmt.Errorf("parse event settings: config missing eventSettingId")
		}
		target, err := parseTargets(c.Targets)
		if err != nil {
			return nil, err
		}
		points := make([]geom.NormPoint2D, len(c.Points))
		for i, p := range c.Points {
			points[i] = geom.NormPoint2D{X: p[0], Y: p[1]}
		}
		warningDistance := c.WarningDistance
		if warningDistance == 0 {
			warningDistance = 0.05
		}
		settings[c.EventSettingID] = &EventSetting{
			ID: c.EventSettingID, Name: c.EventSettingName, Type: parseEventType(c.EventType),
			ParentID: c.ParentID, Points: points, Target: target,
			DetectionPoint: geom.ParseAnchorKind(c.DetectionPoint),
			Direction:      parseDirection(c.Direction),
			Keypoints:      c.Keypoints,
			WarningDistance: warningDistance,
			AngleThreshold:  c.AngleThreshold,
			Timeout:        c.Timeout,
			InOrder:        c.InOrder,
			NCond:          c.NCond,
			Turn:           c.Turn,
			RegenInterval:  c.RegenInterval,
			Ext:            c.Ext,
		}
	}
	for _, s := range settings {
		if s.ParentID == "" {
			continue
		}
		if parent, ok := settings[s.ParentID]; ok {
			parent.Children = append(parent.Children, s.ID)
		}
	}
	return settings, nil
}

// TerminalIDs returns every setting with no children, excluding Filter and
// HM types, which exist only to feed other settings.
func TerminalIDs(settings map[string]*EventSetting) []string {
	var ids []string
	for id, s := range settings {
		if len(s.Children) == 0 && s.Type != TypeFilter && s.Type != TypeHM {
			ids = append(ids, id)
		}
	}
	return ids
}
