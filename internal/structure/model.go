// Package structure translates a Miniserver's JSON self-description
// (LoxAPP3.json) into the typed in-memory model and the reverse
// state-id -> (control, state-name) index used to apply binary updates.
package structure

// Room is a human-named location grouping of controls.
type Room struct {
	ID   string
	Name string
}

// Category is a human-named functional grouping of controls.
type Category struct {
	ID   string
	Name string
}

// StateEntry is one named, individually addressable value attached to a
// control.
type StateEntry struct {
	StateID   string
	Name      string
	Value     *float64
	Text      *string
	IsDigital bool
}

// Control is an addressable entity on a Miniserver.
type Control struct {
	ID           string
	Name         string
	CategoryID   string
	CategoryName string
	RoomID       string
	RoomName     string
	Type         string
	TextOnly     bool
	States       map[string]*StateEntry
	SubControls  []*Control
}

// StateRef is one entry of the reverse state-id index: the owning control
// and the control-scoped state name.
type StateRef struct {
	ControlID string
	StateName string
}

// Structure is the fully parsed, queryable result of one structure-file
// parse: the controls/rooms/categories maps plus the reverse index.
type Structure struct {
	Controls      map[string]*Control
	Rooms         map[string]Room
	Categories    map[string]Category
	StateIndex    map[string]StateRef
	Serial        string
	Firmware      string
	MiniserverGen int
}

// digitalTypes are the control types for which `active`/`value` states are
// considered digital (boolean-valued) rather than general analog values.
var digitalTypes = map[string]struct{}{
	"Switch":           {},
	"Pushbutton":       {},
	"TimedSwitch":      {},
	"SmokeAlarm":       {},
	"Alarm":            {},
	"Presence":         {},
	"WindowMonitor":    {},
	"PresenceDetector": {},
}

// textOnlyTypes are control types whose states are always textual, never
// numeric, regardless of state-name heuristics.
var textOnlyTypes = map[string]struct{}{
	"TextInput": {},
	"Webpage":   {},
	"TextState": {},
}

// textStateNames are state names that, if they cover the entirety of a
// control's state set, also mark the control as text-only.
var textStateNames = map[string]struct{}{
	"textAndIcon": {},
	"text":        {},
	"textColor":   {},
	"textInput":   {},
}

func isDigitalState(controlType, stateName string) bool {
	if _, ok := digitalTypes[controlType]; !ok {
		return false
	}
	return stateName == "active" || stateName == "value"
}

func isTextOnlyControl(controlType string, stateNames []string) bool {
	if _, ok := textOnlyTypes[controlType]; ok {
		return true
	}
	if len(stateNames) == 0 {
		return false
	}
	for _, name := range stateNames {
		if _, ok := textStateNames[name]; !ok {
			return false
		}
	}
	return true
}
