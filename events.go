package astrobox

import (
	"encoding/json"
	"sync"
)

// EventKind identifies a variant of Event.
type EventKind int

const (
	KindMetadataAnalysisFinished EventKind = iota
	KindSoftwareUpdateAvailable
	KindExternalDriveMounted
	KindExternalDriveEjected
	KindExternalDriveRemoved
	KindNetworkStatusChanged
	KindInternetConnectivityChanged
	KindLockStatusChanged
	KindPrinterStateChanged
	KindPrintCaptureInfoChanged
	KindCloudDownloadProgress
	KindToolChanged
	KindPrintingSpeedChanged
	KindPrintingFlowChanged
	KindCommsData
)

// Event is a decoded push-channel event. The concrete types below are the
// only implementations.
type Event interface {
	Kind() EventKind
}

// MetadataAnalysisFinished reports that the appliance finished analyzing a gcode file.
type MetadataAnalysisFinished struct {
	File   string          `json:"file"`
	Result json.RawMessage `json:"result"`
}

// SoftwareUpdateAvailable announces a newer appliance release.
type SoftwareUpdateAvailable struct {
	Version      string `json:"version"`
	ReleaseNotes string `json:"releaseNotes"`
	Critical     bool   `json:"critical"`
}

// ExternalDriveMounted reports a USB drive plugged into the appliance.
type ExternalDriveMounted struct {
	MountPath string `json:"mount_path"`
	Label     string `json:"label"`
}

// ExternalDriveEjected reports a drive unmounted by software.
type ExternalDriveEjected struct {
	MountPath string `json:"mount_path"`
}

// ExternalDriveRemoved reports a drive physically pulled out.
type ExternalDriveRemoved struct {
	MountPath string `json:"mount_path"`
}

// NetworkStatusChanged reports the appliance's local network status.
type NetworkStatusChanged struct {
	Status string `json:"status"`
	SSID   string `json:"ssid,omitempty"`
}

// InternetConnectivityChanged reports whether the appliance can reach the internet.
type InternetConnectivityChanged struct {
	Online bool `json:"online"`
}

// LockStatusChanged reports which session holds exclusive control.
// OwnedElsewhere is true when another session took it from this client.
type LockStatusChanged struct {
	Owner          string `json:"owner"`
	OwnedElsewhere bool   `json:"-"`
}

// PrinterStateChanged reports a change in the printer connection state.
type PrinterStateChanged struct {
	State string `json:"state"`
}

// PrintCaptureInfoChanged reports a change to the timelapse capture.
type PrintCaptureInfoChanged struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Frames      int    `json:"frames"`
	Freq        string `json:"freq"`
	LastPicture string `json:"last_picture,omitempty"`
}

// CloudDownloadProgress reports progress of a print file download. Local is
// true when this client's session started the download.
type CloudDownloadProgress struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Progress  float64 `json:"progress"`
	Filename  string  `json:"filename,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Local     bool    `json:"-"`
}

// ToolChanged reports the active extruder.
type ToolChanged struct {
	Tool int `json:"tool"`
}

// PrintingSpeedChanged reports the speed multiplier in percent.
type PrintingSpeedChanged struct {
	Speed int `json:"speed"`
}

// PrintingFlowChanged reports the flow multiplier in percent.
type PrintingFlowChanged struct {
	Flow int `json:"flow"`
}

// Comms directions.
const (
	CommsSent     = "sent"
	CommsReceived = "received"
)

// CommsData is one line of raw printer traffic, for a diagnostic console.
type CommsData struct {
	Direction string `json:"direction"`
	Data      string `json:"data"`
}

func (MetadataAnalysisFinished) Kind() EventKind    { return KindMetadataAnalysisFinished }
func (SoftwareUpdateAvailable) Kind() EventKind     { return KindSoftwareUpdateAvailable }
func (ExternalDriveMounted) Kind() EventKind        { return KindExternalDriveMounted }
func (ExternalDriveEjected) Kind() EventKind        { return KindExternalDriveEjected }
func (ExternalDriveRemoved) Kind() EventKind        { return KindExternalDriveRemoved }
func (NetworkStatusChanged) Kind() EventKind        { return KindNetworkStatusChanged }
func (InternetConnectivityChanged) Kind() EventKind { return KindInternetConnectivityChanged }
func (LockStatusChanged) Kind() EventKind           { return KindLockStatusChanged }
func (PrinterStateChanged) Kind() EventKind         { return KindPrinterStateChanged }
func (PrintCaptureInfoChanged) Kind() EventKind     { return KindPrintCaptureInfoChanged }
func (CloudDownloadProgress) Kind() EventKind       { return KindCloudDownloadProgress }
func (ToolChanged) Kind() EventKind                 { return KindToolChanged }
func (PrintingSpeedChanged) Kind() EventKind        { return KindPrintingSpeedChanged }
func (PrintingFlowChanged) Kind() EventKind         { return KindPrintingFlowChanged }
func (CommsData) Kind() EventKind                   { return KindCommsData }

// EventBus delivers events to subscribers registered per kind.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]*busHandler
	any      []*busHandler
}

type busHandler struct {
	fn func(Event)
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventKind][]*busHandler)}
}

// On subscribes fn to every event of type E. The returned func removes it.
//
//	astrobox.On(bus, func(e astrobox.ExternalDriveMounted) { ... })
func On[E Event](b *EventBus, fn func(E)) (unsubscribe func()) {
	var zero E
	kind := zero.Kind()
	h := &busHandler{fn: func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	}}

	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[kind] = removeHandler(b.handlers[kind], h)
	}
}

// OnAny subscribes fn to every event.
func OnAny(b *EventBus, fn func(Event)) (unsubscribe func()) {
	h := &busHandler{fn: fn}
	b.mu.Lock()
	b.any = append(b.any, h)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.any = removeHandler(b.any, h)
	}
}

// Publish delivers e synchronously, kind subscribers first.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*busHandler, 0, len(b.handlers[e.Kind()])+len(b.any))
	targets = append(targets, b.handlers[e.Kind()]...)
	targets = append(targets, b.any...)
	b.mu.RUnlock()

	for _, h := range targets {
		h.fn(e)
	}
}

func removeHandler(list []*busHandler, target *busHandler) []*busHandler {
	out := list[:0:0]
	for _, h := range list {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}
