package astrobox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_SeedsFromBootstrap(t *testing.T) {
	s := NewStore(Bootstrap{
		Printing:    true,
		Operational: true,
		Camera:      true,
		Temps: Temperatures{
			Bed:   Temperature{Actual: 55, Target: 60},
			Tools: map[string]Temperature{"0": {Actual: 180, Target: 210}},
		},
		Progress: JobProgress{Filename: "benchy.gcode", Percent: 12.5},
	})

	assert.Equal(t, Unreachable, s.Connection())
	assert.True(t, s.Printing())
	assert.True(t, s.Camera())
	assert.Equal(t, 60.0, s.Temps().Bed.Target)
	assert.Equal(t, 210.0, s.Temps().Tools["0"].Target)
	assert.Equal(t, "benchy.gcode", s.Progress().Filename)
	assert.Equal(t, 100, s.PrintingSpeed(), "speed defaults to 100%")
	assert.Equal(t, 100, s.PrintingFlow(), "flow defaults to 100%")

	for _, field := range []string{
		FieldConnection, FieldPrinting, FieldPaused, FieldHeatingUp, FieldOperational,
		FieldReady, FieldError, FieldStateText, FieldCamera, FieldTemps, FieldProgress,
		FieldTool, FieldPrintingSpeed, FieldPrintingFlow,
	} {
		_, ok := s.Get(field)
		assert.True(t, ok, "field %q should be seeded", field)
	}
}

func TestStore_NoNotificationForSameValue(t *testing.T) {
	s := NewStore(Bootstrap{})

	var calls int
	s.Subscribe(FieldPrinting, func(string, any, any) { calls++ })

	assert.False(t, s.Set(FieldPrinting, false), "bootstrap value is already false")
	assert.True(t, s.Set(FieldPrinting, true))
	assert.False(t, s.Set(FieldPrinting, true))
	assert.Equal(t, 1, calls)
}

func TestStore_NoNotificationForEqualStruct(t *testing.T) {
	s := NewStore(Bootstrap{})

	var calls int
	s.Subscribe(FieldTemps, func(string, any, any) { calls++ })

	temps := Temperatures{Tools: map[string]Temperature{"0": {Actual: 20}}}
	s.Set(FieldTemps, temps)
	s.Set(FieldTemps, Temperatures{Tools: map[string]Temperature{"0": {Actual: 20}}})
	assert.Equal(t, 1, calls, "deeply equal value must not notify")
}

func TestStore_SubscriberReceivesOldAndNew(t *testing.T) {
	s := NewStore(Bootstrap{})

	var gotOld, gotNew any
	s.Subscribe(FieldTool, func(field string, old, new any) {
		gotOld, gotNew = old, new
	})
	s.Set(FieldTool, 1)

	assert.Equal(t, 0, gotOld)
	assert.Equal(t, 1, gotNew)
}

func TestStore_WildcardAndUnsubscribe(t *testing.T) {
	s := NewStore(Bootstrap{})

	var fields []string
	unsubscribe := s.SubscribeAll(func(field string, _, _ any) {
		fields = append(fields, field)
	})

	s.Set(FieldPrinting, true)
	s.Set(FieldPaused, true)
	unsubscribe()
	s.Set(FieldCamera, true)

	assert.Equal(t, []string{FieldPrinting, FieldPaused}, fields)
}

func TestStore_UnsubscribeOneOfMany(t *testing.T) {
	s := NewStore(Bootstrap{})

	var a, b int
	unA := s.Subscribe(FieldTool, func(string, any, any) { a++ })
	s.Subscribe(FieldTool, func(string, any, any) { b++ })

	s.Set(FieldTool, 1)
	unA()
	s.Set(FieldTool, 2)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestStore_TempsReturnsCopy(t *testing.T) {
	s := NewStore(Bootstrap{Temps: Temperatures{Tools: map[string]Temperature{"0": {Actual: 20}}}})

	temps := s.Temps()
	temps.Tools["0"] = Temperature{Actual: 999}

	require.Equal(t, 20.0, s.Temps().Tools["0"].Actual)
}

func TestStore_DisplayStatePrecedence(t *testing.T) {
	tests := []struct {
		name                          string
		printing, paused, operational bool
		want                          string
	}{
		{"paused overrides printing", true, true, true, DisplayPaused},
		{"paused alone", false, true, true, DisplayPaused},
		{"printing", true, false, true, DisplayPrinting},
		{"idle", false, false, true, DisplayIdle},
		{"offline", false, false, false, DisplayOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(Bootstrap{Printing: tt.printing, Paused: tt.paused, Operational: tt.operational})
			assert.Equal(t, tt.want, s.DisplayState())
		})
	}
}

func TestDeviceStatus_BootstrapRoundTrip(t *testing.T) {
	seed := Bootstrap{
		Printing:      true,
		StateText:     "Printing",
		Temps:         Temperatures{Bed: Temperature{Actual: 60, Target: 60}, Tools: map[string]Temperature{"0": {Actual: 210}}},
		Progress:      JobProgress{Filename: "cube.gcode", Percent: 42},
		Tool:          1,
		PrintingSpeed: 120,
		PrintingFlow:  95,
	}
	store := NewStore(seed)
	store.Set(FieldConnection, Reachable)

	again := NewStore(store.Snapshot().Bootstrap())

	assert.Equal(t, Unreachable, again.Connection(), "connection state is not carried over")
	snap := again.Snapshot()
	snap.Connection = Reachable
	assert.Equal(t, store.Snapshot(), snap)
}

func TestConnectionState_JSONByName(t *testing.T) {
	data, err := json.Marshal(DeviceStatus{Connection: Reachable})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Connection":"reachable"`)

	field, err := json.Marshal(map[string]any{FieldConnection: Checking})
	require.NoError(t, err)
	assert.JSONEq(t, `{"connection":"checking"}`, string(field))

	var back DeviceStatus
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Reachable, back.Connection)

	var bad ConnectionState
	assert.Error(t, bad.UnmarshalText([]byte("sideways")))
}
