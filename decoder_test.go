package astrobox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	session    string
	handshakes []connectedMessage
	lockOwners []string
}

func (l *fakeLink) handshake(apiKey, sessionID string) {
	l.handshakes = append(l.handshakes, connectedMessage{APIKey: apiKey, SessionID: sessionID})
	l.session = sessionID
}

func (l *fakeLink) sessionID() string { return l.session }

func (l *fakeLink) lockLost(owner string) { l.lockOwners = append(l.lockOwners, owner) }

type errorRecorder struct {
	errs []ChannelError
}

func (r *errorRecorder) handle(e ChannelError) { r.errs = append(r.errs, e) }

func (r *errorRecorder) kinds() []ErrorKind {
	out := make([]ErrorKind, len(r.errs))
	for i, e := range r.errs {
		out[i] = e.Kind
	}
	return out
}

func newTestDecoder(b Bootstrap) (*decoder, *Store, *EventBus, *errorRecorder) {
	store := NewStore(b)
	bus := NewEventBus()
	rec := &errorRecorder{}
	return newDecoder(store, bus, rec.handle), store, bus, rec
}

func TestDecoder_Connected(t *testing.T) {
	d, _, _, rec := newTestDecoder(Bootstrap{})
	link := &fakeLink{}

	d.dispatch([]byte(`{"connected":{"apikey":"k1","sessionId":"s1"}}`), link)

	require.Len(t, link.handshakes, 1)
	assert.Equal(t, "k1", link.handshakes[0].APIKey)
	assert.Equal(t, "s1", link.handshakes[0].SessionID)
	assert.Empty(t, rec.errs)
}

func TestDecoder_ConnectedMissingFieldsIsDropped(t *testing.T) {
	d, _, _, rec := newTestDecoder(Bootstrap{})
	link := &fakeLink{}

	d.dispatch([]byte(`{"connected":{"apikey":"k1"}}`), link)

	assert.Empty(t, link.handshakes)
	assert.Equal(t, []ErrorKind{ErrParseFailure}, rec.kinds())
	assert.Equal(t, msgConnected, rec.errs[0].Message)
}

func TestDecoder_CurrentMergesSnapshot(t *testing.T) {
	d, store, _, rec := newTestDecoder(Bootstrap{})

	d.dispatch([]byte(`{"current":{
		"state":{"text":"Printing","flags":{"operational":true,"printing":true,"ready":true}},
		"job":{"file":{"name":"benchy.gcode"},"estimatedPrintTime":3600,"layerCount":120},
		"progress":{"completion":25.5,"printTime":900,"printTimeLeft":2700,"currentLayer":30},
		"temps":[
			{"time":1,"bed":{"actual":20,"target":60},"tools":{"0":{"actual":25,"target":210}}},
			{"time":2,"bed":{"actual":58,"target":60},"tools":{"0":{"actual":205,"target":210}}}
		],
		"camera":true,"tool":1,"printing_speed":110,"printing_flow":95
	}}`), &fakeLink{})

	require.Empty(t, rec.errs)
	snap := store.Snapshot()
	assert.True(t, snap.Printing)
	assert.True(t, snap.Operational)
	assert.True(t, snap.Ready)
	assert.Equal(t, "Printing", snap.StateText)
	assert.Equal(t, 58.0, snap.Temps.Bed.Actual, "newest temperature sample wins")
	assert.Equal(t, 205.0, snap.Temps.Tools["0"].Actual)
	assert.Equal(t, JobProgress{
		Filename:      "benchy.gcode",
		Percent:       25.5,
		TimeElapsed:   900,
		TimeLeft:      2700,
		EstimatedTime: 3600,
		CurrentLayer:  30,
		LayerCount:    120,
	}, snap.Progress)
	assert.True(t, snap.Camera)
	assert.Equal(t, 1, snap.Tool)
	assert.Equal(t, 110, snap.PrintingSpeed)
	assert.Equal(t, 95, snap.PrintingFlow)
}

func TestDecoder_ProgressIgnoredWhenNotPrinting(t *testing.T) {
	d, store, _, _ := newTestDecoder(Bootstrap{
		Progress: JobProgress{Filename: "last.gcode", Percent: 100},
	})

	var notified bool
	store.Subscribe(FieldProgress, func(string, any, any) { notified = true })

	d.dispatch([]byte(`{"current":{
		"state":{"flags":{"operational":true,"printing":false,"paused":false}},
		"job":{"file":{"name":null}},
		"progress":{"completion":null}
	}}`), &fakeLink{})

	assert.False(t, notified, "idle snapshot must not touch progress")
	assert.Equal(t, "last.gcode", store.Progress().Filename)
}

func TestDecoder_ProgressUpdatesWhilePaused(t *testing.T) {
	d, store, _, _ := newTestDecoder(Bootstrap{})

	d.dispatch([]byte(`{"current":{
		"state":{"flags":{"paused":true}},
		"progress":{"completion":50}
	}}`), &fakeLink{})

	assert.Equal(t, 50.0, store.Progress().Percent)
	assert.Equal(t, DisplayPaused, store.DisplayState())
}

func TestDecoder_CurrentWithoutStateKeepsFlags(t *testing.T) {
	d, store, _, _ := newTestDecoder(Bootstrap{Printing: true})

	d.dispatch([]byte(`{"current":{"tool":2}}`), &fakeLink{})

	assert.True(t, store.Printing(), "absent state section leaves flags alone")
	assert.Equal(t, 2, store.Tool())
}

func TestDecoder_RepeatedSnapshotDoesNotNotify(t *testing.T) {
	d, store, _, _ := newTestDecoder(Bootstrap{})
	frame := []byte(`{"current":{"state":{"flags":{"printing":true}},"temps":[{"bed":{"actual":60,"target":60}}]}}`)

	d.dispatch(frame, &fakeLink{})

	var changes []string
	store.SubscribeAll(func(field string, _, _ any) { changes = append(changes, field) })
	d.dispatch(frame, &fakeLink{})

	assert.Empty(t, changes)
}

func TestDecoder_Events(t *testing.T) {
	d, _, bus, rec := newTestDecoder(Bootstrap{})

	var mounted []ExternalDriveMounted
	var removed []ExternalDriveRemoved
	On(bus, func(e ExternalDriveMounted) { mounted = append(mounted, e) })
	On(bus, func(e ExternalDriveRemoved) { removed = append(removed, e) })

	d.dispatch([]byte(`{"event":{"type":"ExternalDriveMounted","payload":{"mount_path":"/media/usb0","label":"PRINTS"}}}`), &fakeLink{})
	d.dispatch([]byte(`{"event":{"type":"ExternalDrivePhisicallyRemoved","payload":{"mount_path":"/media/usb0"}}}`), &fakeLink{})

	require.Empty(t, rec.errs)
	require.Len(t, mounted, 1)
	assert.Equal(t, "PRINTS", mounted[0].Label)
	require.Len(t, removed, 1)
	assert.Equal(t, "/media/usb0", removed[0].MountPath)
}

func TestDecoder_UnknownEventIsReported(t *testing.T) {
	d, _, bus, rec := newTestDecoder(Bootstrap{})

	var got []Event
	OnAny(bus, func(e Event) { got = append(got, e) })

	d.dispatch([]byte(`{"event":{"type":"Teleported","payload":{}}}`), &fakeLink{})

	assert.Empty(t, got)
	require.Equal(t, []ErrorKind{ErrUnknownEvent}, rec.kinds())
	assert.Equal(t, "Teleported", rec.errs[0].Event)
}

func TestDecoder_BadEventPayloadIsReported(t *testing.T) {
	d, _, _, rec := newTestDecoder(Bootstrap{})

	d.dispatch([]byte(`{"event":{"type":"ToolChange","payload":{"tool":"left"}}}`), &fakeLink{})

	assert.Equal(t, []ErrorKind{ErrParseFailure}, rec.kinds())
}

func TestDecoder_LockStatusChanged(t *testing.T) {
	d, _, bus, _ := newTestDecoder(Bootstrap{})
	link := &fakeLink{session: "mine"}

	var events []LockStatusChanged
	On(bus, func(e LockStatusChanged) { events = append(events, e) })

	d.dispatch([]byte(`{"event":{"type":"LockStatusChanged","payload":"mine"}}`), link)
	d.dispatch([]byte(`{"event":{"type":"LockStatusChanged","payload":null}}`), link)
	assert.Empty(t, link.lockOwners, "own lock or release must not force a reload")

	d.dispatch([]byte(`{"event":{"type":"LockStatusChanged","payload":"other-tab"}}`), link)
	assert.Equal(t, []string{"other-tab"}, link.lockOwners)

	require.Len(t, events, 3)
	assert.False(t, events[0].OwnedElsewhere)
	assert.False(t, events[1].OwnedElsewhere)
	assert.True(t, events[2].OwnedElsewhere)
}

func TestDecoder_LockStatusBeforeHandshake(t *testing.T) {
	d, _, bus, _ := newTestDecoder(Bootstrap{})
	link := &fakeLink{}

	var events []LockStatusChanged
	On(bus, func(e LockStatusChanged) { events = append(events, e) })

	d.dispatch([]byte(`{"event":{"type":"LockStatusChanged","payload":"other-tab"}}`), link)

	assert.Empty(t, link.lockOwners, "no session yet, nothing can be lost")
	require.Len(t, events, 1)
	assert.Equal(t, "other-tab", events[0].Owner)
	assert.False(t, events[0].OwnedElsewhere)
}

func TestDecoder_CloudDownloadLocal(t *testing.T) {
	d, _, bus, _ := newTestDecoder(Bootstrap{})
	link := &fakeLink{session: "s1"}

	var events []CloudDownloadProgress
	On(bus, func(e CloudDownloadProgress) { events = append(events, e) })

	d.dispatch([]byte(`{"event":{"type":"CloudDownloadEvent","payload":{"id":"d1","type":"progress","progress":40,"sessionId":"s1"}}}`), link)
	d.dispatch([]byte(`{"event":{"type":"CloudDownloadEvent","payload":{"id":"d2","type":"progress","progress":10,"sessionId":"s2"}}}`), link)

	require.Len(t, events, 2)
	assert.True(t, events[0].Local)
	assert.False(t, events[1].Local)
}

func TestDecoder_CommsData(t *testing.T) {
	d, _, bus, rec := newTestDecoder(Bootstrap{})

	var lines []CommsData
	On(bus, func(e CommsData) { lines = append(lines, e) })

	d.dispatch([]byte(`{"commsData":{"direction":"sent","data":"M105"}}`), &fakeLink{})
	d.dispatch([]byte(`{"commsData":{"direction":"received","data":"ok T:210.0 /210.0"}}`), &fakeLink{})
	d.dispatch([]byte(`{"commsData":{"direction":"sideways","data":"?"}}`), &fakeLink{})

	assert.Equal(t, []CommsData{
		{Direction: CommsSent, Data: "M105"},
		{Direction: CommsReceived, Data: "ok T:210.0 /210.0"},
	}, lines)
	assert.Equal(t, []ErrorKind{ErrParseFailure}, rec.kinds())
}

func TestDecoder_UnknownSubMessageIgnored(t *testing.T) {
	d, store, _, rec := newTestDecoder(Bootstrap{})

	d.dispatch([]byte(`{"history":{"x":1},"current":{"tool":3}}`), &fakeLink{})

	assert.Equal(t, []ErrorKind{ErrUnknownMessage}, rec.kinds())
	assert.Equal(t, "history", rec.errs[0].Message)
	assert.Equal(t, 3, store.Tool(), "later sub-messages are still processed")
}

func TestDecoder_MalformedFrameDropped(t *testing.T) {
	d, store, _, rec := newTestDecoder(Bootstrap{})

	d.dispatch([]byte(`{"current":{"tool":3}`), &fakeLink{})

	assert.Equal(t, []ErrorKind{ErrMalformedFrame}, rec.kinds())
	assert.Equal(t, 0, store.Tool(), "nothing from a malformed frame is applied")
}

func TestDecoder_SubMessagesInWireOrder(t *testing.T) {
	d, store, bus, _ := newTestDecoder(Bootstrap{})
	link := &fakeLink{}

	var order []string
	store.Subscribe(FieldTool, func(string, any, any) { order = append(order, "current") })
	On(bus, func(ToolChanged) { order = append(order, "event") })

	d.dispatch([]byte(`{"event":{"type":"ToolChange","payload":{"tool":1}},"current":{"tool":1}}`), link)
	d.dispatch([]byte(`{"current":{"tool":2},"event":{"type":"ToolChange","payload":{"tool":2}}}`), link)

	assert.Equal(t, []string{"event", "current", "current", "event"}, order)
}
