package astrobox

import (
	"encoding/json"
	"fmt"
	"time"
)

// sessionLink connects the decoder to the session a frame arrived on.
type sessionLink interface {
	// handshake is called when the connected message has been validated.
	handshake(apiKey, sessionID string)

	// sessionID returns the token assigned by the last handshake, if any.
	sessionID() string

	// lockLost is called when another session took exclusive control.
	lockLost(owner string)
}

// decoder interprets push frames and fans them out to the store and bus.
type decoder struct {
	store   *Store
	bus     *EventBus
	onError ErrorHandler
}

func newDecoder(store *Store, bus *EventBus, onError ErrorHandler) *decoder {
	return &decoder{store: store, bus: bus, onError: onError}
}

// dispatch processes one frame. Sub-messages are handled in wire order; a
// bad sub-message is reported and skipped without affecting the others.
func (d *decoder) dispatch(data []byte, link sessionLink) {
	members, err := parseFrame(data)
	if err != nil {
		d.report(ErrMalformedFrame, "", "", err, data)
		return
	}

	for _, m := range members {
		var err error
		switch m.name {
		case msgConnected:
			err = d.handleConnected(m.value, link)
		case msgCurrent:
			err = d.handleCurrent(m.value)
		case msgEvent:
			d.handleEvent(m.value, link)
		case msgCommsData:
			err = d.handleComms(m.value)
		default:
			d.report(ErrUnknownMessage, m.name, "", nil, m.value)
			continue
		}
		if err != nil {
			d.report(ErrParseFailure, m.name, "", err, m.value)
		}
	}
}

func (d *decoder) handleConnected(raw json.RawMessage, link sessionLink) error {
	var msg connectedMessage
	if err := decodeStrict(raw, &msg); err != nil {
		return err
	}
	if err := msg.validate(); err != nil {
		return err
	}
	link.handshake(msg.APIKey, msg.SessionID)
	return nil
}

func (d *decoder) handleCurrent(raw json.RawMessage) error {
	var msg currentMessage
	if err := decodeStrict(raw, &msg); err != nil {
		return err
	}

	if msg.State != nil {
		if msg.State.Text != nil {
			d.store.Set(FieldStateText, *msg.State.Text)
		}
		if f := msg.State.Flags; f != nil {
			d.store.Set(FieldOperational, f.Operational)
			d.store.Set(FieldReady, f.Ready)
			d.store.Set(FieldError, f.Error)
			d.store.Set(FieldHeatingUp, f.HeatingUp)
			d.store.Set(FieldPaused, f.Paused)
			d.store.Set(FieldPrinting, f.Printing)
		}
	}

	if n := len(msg.Temps); n > 0 {
		latest := msg.Temps[n-1]
		temps := d.store.Temps()
		if latest.Bed != nil {
			temps.Bed = *latest.Bed
		}
		if latest.Tools != nil {
			temps.Tools = latest.Tools
		}
		d.store.Set(FieldTemps, temps)
	}

	// Progress only moves while a job is active, so an idle snapshot can't
	// wipe the last job summary other consumers are showing.
	if (d.store.Printing() || d.store.Paused()) && (msg.Progress != nil || msg.Job != nil) {
		prog := d.store.Progress()
		if j := msg.Job; j != nil {
			prog.Filename = j.File.Name
			prog.RenderedImage = j.File.RenderedImage
			prog.EstimatedTime = j.EstimatedPrintTime
			prog.LayerCount = j.LayerCount
		}
		if p := msg.Progress; p != nil {
			prog.Percent = p.Completion
			prog.TimeElapsed = p.PrintTime
			prog.TimeLeft = p.PrintTimeLeft
			prog.CurrentLayer = p.CurrentLayer
		}
		d.store.Set(FieldProgress, prog)
	}

	if msg.Camera != nil {
		d.store.Set(FieldCamera, *msg.Camera)
	}
	if msg.Tool != nil {
		d.store.Set(FieldTool, *msg.Tool)
	}
	if msg.PrintingSpeed != nil {
		d.store.Set(FieldPrintingSpeed, *msg.PrintingSpeed)
	}
	if msg.PrintingFlow != nil {
		d.store.Set(FieldPrintingFlow, *msg.PrintingFlow)
	}
	return nil
}

func (d *decoder) handleEvent(raw json.RawMessage, link sessionLink) {
	var msg eventMessage
	if err := decodeStrict(raw, &msg); err != nil {
		d.report(ErrParseFailure, msgEvent, "", err, raw)
		return
	}

	ev, err := decodeEvent(msg, link.sessionID())
	if err != nil {
		kind := ErrParseFailure
		if _, unknown := err.(unknownEventError); unknown {
			kind = ErrUnknownEvent
		}
		d.report(kind, msgEvent, msg.Type, err, msg.Payload)
		return
	}

	d.bus.Publish(ev)

	if lock, ok := ev.(LockStatusChanged); ok && lock.OwnedElsewhere {
		link.lockLost(lock.Owner)
	}
}

func (d *decoder) handleComms(raw json.RawMessage) error {
	var msg CommsData
	if err := decodeStrict(raw, &msg); err != nil {
		return err
	}
	if msg.Direction != CommsSent && msg.Direction != CommsReceived {
		return fmt.Errorf("commsData: unknown direction %q", msg.Direction)
	}
	d.bus.Publish(msg)
	return nil
}

func (d *decoder) report(kind ErrorKind, message, event string, cause error, raw []byte) {
	d.onError(ChannelError{
		Kind:      kind,
		Message:   message,
		Event:     event,
		Cause:     cause,
		Raw:       raw,
		Timestamp: time.Now(),
	})
}

type unknownEventError string

func (e unknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", string(e))
}

// decodeEvent turns an event message into its typed variant.
func decodeEvent(msg eventMessage, session string) (Event, error) {
	switch msg.Type {
	case "MetadataAnalysisFinished":
		return decodeInto[MetadataAnalysisFinished](msg.Payload)
	case "SoftwareUpdateAvailable":
		return decodeInto[SoftwareUpdateAvailable](msg.Payload)
	case "ExternalDriveMounted":
		return decodeInto[ExternalDriveMounted](msg.Payload)
	case "ExternalDriveEjected":
		return decodeInto[ExternalDriveEjected](msg.Payload)
	case "ExternalDrivePhisicallyRemoved", "ExternalDriveRemoved":
		return decodeInto[ExternalDriveRemoved](msg.Payload)
	case "NetworkStatusChanged":
		return decodeInto[NetworkStatusChanged](msg.Payload)
	case "InternetConnectivityChanged":
		return decodeInto[InternetConnectivityChanged](msg.Payload)
	case "PrinterStateChanged":
		return decodeInto[PrinterStateChanged](msg.Payload)
	case "PrintCaptureInfoChanged":
		return decodeInto[PrintCaptureInfoChanged](msg.Payload)
	case "ToolChange":
		return decodeInto[ToolChanged](msg.Payload)
	case "PrintingSpeedChange":
		return decodeInto[PrintingSpeedChanged](msg.Payload)
	case "PrintingFlowChange":
		return decodeInto[PrintingFlowChanged](msg.Payload)
	case "CloudDownloadEvent":
		ev, err := decodeInto[CloudDownloadProgress](msg.Payload)
		if err != nil {
			return nil, err
		}
		ev.Local = session != "" && ev.SessionID == session
		return ev, nil
	case "LockStatusChanged":
		// The payload is the owning session id, or null when unlocked.
		var owner *string
		if err := json.Unmarshal(msg.Payload, &owner); err != nil {
			return nil, err
		}
		ev := LockStatusChanged{}
		if owner != nil {
			ev.Owner = *owner
			// Before the handshake there is no session to compare against.
			ev.OwnedElsewhere = session != "" && ev.Owner != "" && ev.Owner != session
		}
		return ev, nil
	default:
		return nil, unknownEventError(msg.Type)
	}
}

func decodeInto[E Event](payload json.RawMessage) (E, error) {
	var ev E
	if err := decodeStrict(payload, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
