package v2v

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Register(t *testing.T) {
	in, err := Decode([]byte(`{"type":"register","vehicle_id":" A "}`))
	require.NoError(t, err)

	reg, ok := in.(Register)
	require.True(t, ok)
	assert.Equal(t, "A", reg.VehicleID)
	assert.Equal(t, TypeRegister, in.Type())
}

func TestDecode_RegisterWithoutVehicleID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"register"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecode_Relayable(t *testing.T) {
	in, err := Decode([]byte(`{"type":"safety_alert","vehicle_id":"A","message":"Pothole ahead","distance":1.1}`))
	require.NoError(t, err)

	rel, ok := in.(Relayable)
	require.True(t, ok)
	assert.Equal(t, TypeSafetyAlert, rel.Kind)
	assert.Equal(t, "A", rel.VehicleID)
	assert.Equal(t, "Pothole ahead", rel.Text)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not_json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"null", `null`, ErrMalformed},
		{"type_not_string", `{"type":5}`, ErrMalformed},
		{"message_not_string", `{"type":"message","message":{"a":1}}`, ErrMalformed},
		{"missing_type", `{"vehicle_id":"A"}`, ErrUnknownType},
		{"unknown_type", `{"type":"teleport"}`, ErrUnknownType},
		{"system_from_client", `{"type":"system","message":"hi"}`, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStamp_PreservesFieldsAndOverridesServerFields(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","vehicle_id":"A","message":"hi","sender":"spoofed","lane":2}`))
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	msg := in.(Relayable).Stamp("A", at)

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, "A", got["sender"])
	assert.Equal(t, "2024-05-01T10:30:00Z", got["timestamp"])
	assert.Equal(t, "hi", got["message"])
	assert.Equal(t, "A", got["vehicle_id"])
	assert.InDelta(t, 2.0, got["lane"], 0)
}

func TestNewAlert(t *testing.T) {
	rel, err := NewAlert("B", "🕳️ Pothole detected 1.1 m ahead - Reduce speed", map[string]any{
		"alertType": "pothole",
		"distance":  1.09,
	})
	require.NoError(t, err)

	msg := rel.Stamp("B", time.Now())
	assert.Equal(t, TypeSafetyAlert, msg.Type)
	assert.True(t, msg.MentionsDistance())

	raw, ok := msg.Field("alertType")
	require.True(t, ok)
	assert.JSONEq(t, `"pothole"`, string(raw))
}

func TestNewAlert_UnencodableField(t *testing.T) {
	_, err := NewAlert("B", "x", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestMentionsDistance(t *testing.T) {
	in, err := Decode([]byte(`{"type":"message","message":"hello"}`))
	require.NoError(t, err)
	assert.False(t, in.(Relayable).Stamp("A", time.Now()).MentionsDistance())

	in, err = Decode([]byte(`{"type":"message","message":"Pothole, distance 3 m"}`))
	require.NoError(t, err)
	assert.True(t, in.(Relayable).Stamp("A", time.Now()).MentionsDistance())
}

func TestWelcome(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	b, err := json.Marshal(Welcome("A", 2, at))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "system",
		"message": "Vehicle A connected to V2V network with distance-aware hazard detection",
		"timestamp": "2024-05-01T10:30:00Z",
		"vehicle_count": 2
	}`, string(b))
}

func TestRejection(t *testing.T) {
	msg := Rejection(ErrMalformed, time.Now())
	assert.Equal(t, TypeSystem, msg.Type)
	assert.Equal(t, ErrMalformed.Error(), msg.Error)
	assert.Nil(t, msg.VehicleCount)
}
