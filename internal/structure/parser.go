package structure

import (
	"encoding/json"
	"fmt"
)

type rawStructure struct {
	MsInfo   rawMsInfo                 `json:"msInfo"`
	Rooms    map[string]rawRoom        `json:"rooms"`
	Cats     map[string]rawCategory    `json:"cats"`
	Controls map[string]rawControl     `json:"controls"`
}

type rawMsInfo struct {
	SerialNr       string `json:"serialNr"`
	MsName         string `json:"msName"`
	MiniserverType int    `json:"miniserverType"`
	FirmwareVer    string `json:"swVersion"`
}

type rawRoom struct {
	Name string `json:"name"`
}

type rawCategory struct {
	Name string `json:"name"`
}

type rawControl struct {
	Name        string                `json:"name"`
	Type        string                `json:"type"`
	Room        string                `json:"room"`
	Cat         string                `json:"cat"`
	States      map[string]string     `json:"states"`
	SubControls map[string]rawControl `json:"subControls"`
}

// Parse translates a structure-file JSON document into a queryable
// Structure, building the reverse state-id index as it walks the control
// tree. It is tolerant of missing optional fields: unknown types pass
// through unchanged, and missing rooms/categories yield empty label
// strings downstream rather than failing the parse.
func Parse(doc []byte) (*Structure, error) {
	var raw rawStructure
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("structure: invalid structure document: %w", err)
	}

	s := &Structure{
		Controls:      make(map[string]*Control),
		Rooms:         make(map[string]Room),
		Categories:    make(map[string]Category),
		StateIndex:    make(map[string]StateRef),
		Serial:        raw.MsInfo.SerialNr,
		Firmware:      raw.MsInfo.FirmwareVer,
		MiniserverGen: raw.MsInfo.MiniserverType,
	}
	for id, r := range raw.Rooms {
		s.Rooms[id] = Room{ID: id, Name: r.Name}
	}
	for id, c := range raw.Cats {
		s.Categories[id] = Category{ID: id, Name: c.Name}
	}

	for id, rc := range raw.Controls {
		roomName := s.Rooms[rc.Room].Name
		catName := s.Categories[rc.Cat].Name
		ctrl := buildControl(id, rc, rc.Room, roomName, rc.Cat, catName)
		s.Controls[id] = ctrl
		indexControl(s.StateIndex, ctrl)
	}

	return s, nil
}

// buildControl recursively builds a Control (and its sub-controls, which
// inherit the parent's room and category) from its raw JSON form.
func buildControl(id string, rc rawControl, roomID, roomName, catID, catName string) *Control {
	ctrl := &Control{
		ID:           id,
		Name:         rc.Name,
		Type:         rc.Type,
		RoomID:       roomID,
		RoomName:     roomName,
		CategoryID:   catID,
		CategoryName: catName,
		States:       make(map[string]*StateEntry),
	}

	stateNames := make([]string, 0, len(rc.States))
	for name := range rc.States {
		stateNames = append(stateNames, name)
	}
	ctrl.TextOnly = isTextOnlyControl(rc.Type, stateNames)

	for name, stateID := range rc.States {
		ctrl.States[name] = &StateEntry{
			StateID:   stateID,
			Name:      name,
			IsDigital: isDigitalState(rc.Type, name),
		}
	}

	for subID, subRaw := range rc.SubControls {
		sub := buildControl(subID, subRaw, roomID, roomName, catID, catName)
		ctrl.SubControls = append(ctrl.SubControls, sub)
	}

	return ctrl
}

// indexControl appends every state id of ctrl (and, recursively, its
// sub-controls) to idx, mapping each to its owning control id and
// control-scoped state name.
func indexControl(idx map[string]StateRef, ctrl *Control) {
	for name, entry := range ctrl.States {
		idx[entry.StateID] = StateRef{ControlID: ctrl.ID, StateName: name}
	}
	for _, sub := range ctrl.SubControls {
		indexControl(idx, sub)
	}
}
