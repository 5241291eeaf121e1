package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColdStartSingleControl(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "504F94A12345", "msName": "Home", "miniserverType": 1, "swVersion": "12.3.4.5"},
		"rooms": {"r1": {"name": "Kitchen"}},
		"cats": {"c1": {"name": "Lighting"}},
		"controls": {
			"k1": {
				"name": "Kitchen Light",
				"type": "Switch",
				"room": "r1",
				"cat": "c1",
				"states": {"active": "11111111-1111-1111-1111-111111111111"}
			}
		}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, "504F94A12345", s.Serial)
	assert.Equal(t, "12.3.4.5", s.Firmware)
	require.Contains(t, s.Controls, "k1")

	ctrl := s.Controls["k1"]
	assert.Equal(t, "Kitchen Light", ctrl.Name)
	assert.Equal(t, "Kitchen", ctrl.RoomName)
	assert.Equal(t, "Lighting", ctrl.CategoryName)
	assert.False(t, ctrl.TextOnly)

	require.Contains(t, ctrl.States, "active")
	assert.True(t, ctrl.States["active"].IsDigital)

	ref, ok := s.StateIndex["11111111-1111-1111-1111-111111111111"]
	require.True(t, ok)
	assert.Equal(t, "k1", ref.ControlID)
	assert.Equal(t, "active", ref.StateName)
}

func TestParseZeroControls(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "X", "msName": "Empty"},
		"rooms": {},
		"cats": {},
		"controls": {}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)
	assert.Empty(t, s.Controls)
	assert.Empty(t, s.Rooms)
	assert.Empty(t, s.Categories)
	assert.Empty(t, s.StateIndex)
}

func TestParseSubControlInheritsRoomAndCategory(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "X"},
		"rooms": {"r1": {"name": "Garage"}},
		"cats": {"c1": {"name": "Climate"}},
		"controls": {
			"p1": {
				"name": "Parent Gate",
				"type": "Gate",
				"room": "r1",
				"cat": "c1",
				"states": {},
				"subControls": {
					"p1/sub1": {
						"name": "Gate Position",
						"type": "Switch",
						"states": {"active": "22222222-2222-2222-2222-222222222222"}
					}
				}
			}
		}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)

	parent := s.Controls["p1"]
	require.Len(t, parent.SubControls, 1)
	sub := parent.SubControls[0]
	assert.Equal(t, "Garage", sub.RoomName)
	assert.Equal(t, "Climate", sub.CategoryName)

	ref, ok := s.StateIndex["22222222-2222-2222-2222-222222222222"]
	require.True(t, ok)
	assert.Equal(t, "p1/sub1", ref.ControlID)
	assert.Equal(t, "active", ref.StateName)
}

func TestParseUnknownRoomOrCategoryYieldsEmptyLabel(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "X"},
		"rooms": {},
		"cats": {},
		"controls": {
			"k1": {"name": "Orphan", "type": "Switch", "room": "missing", "cat": "missing", "states": {}}
		}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "", s.Controls["k1"].RoomName)
	assert.Equal(t, "", s.Controls["k1"].CategoryName)
}

func TestParseTextOnlyControl(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "X"},
		"controls": {
			"t1": {
				"name": "Intercom Text",
				"type": "TextState",
				"states": {"text": "33333333-3333-3333-3333-333333333333"}
			}
		}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)
	assert.True(t, s.Controls["t1"].TextOnly)
	assert.False(t, s.Controls["t1"].States["text"].IsDigital)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestParseReverseIndexCompletenessAcrossNestedSubControls(t *testing.T) {
	doc := []byte(`{
		"msInfo": {"serialNr": "X"},
		"controls": {
			"a": {
				"name": "A",
				"type": "Switch",
				"states": {"active": "44444444-4444-4444-4444-444444444444"},
				"subControls": {
					"a/b": {
						"name": "B",
						"type": "Switch",
						"states": {"active": "55555555-5555-5555-5555-555555555555"},
						"subControls": {
							"a/b/c": {
								"name": "C",
								"type": "Switch",
								"states": {"active": "66666666-6666-6666-6666-666666666666"}
							}
						}
					}
				}
			}
		}
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)
	assert.Len(t, s.StateIndex, 3)

	for id, wantControl := range map[string]string{
		"44444444-4444-4444-4444-444444444444": "a",
		"55555555-5555-5555-5555-555555555555": "a/b",
		"66666666-6666-6666-6666-666666666666": "a/b/c",
	} {
		ref, ok := s.StateIndex[id]
		require.True(t, ok, "missing index entry for %s", id)
		assert.Equal(t, wantControl, ref.ControlID)
		assert.Equal(t, "active", ref.StateName)
	}
}
