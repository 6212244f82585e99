package astrobox

import "fmt"

// ConnectionState describes whether the push channel is currently usable.
type ConnectionState int

const (
	// Unreachable means no session is open, or the last one dropped.
	Unreachable ConnectionState = iota

	// Checking means a socket is open but the handshake hasn't arrived.
	Checking

	// Reachable means a session is open and has completed its handshake.
	Reachable
)

func (s ConnectionState) String() string {
	switch s {
	case Unreachable:
		return "unreachable"
	case Checking:
		return "checking"
	case Reachable:
		return "reachable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name, so JSON output reads "reachable"
// rather than a number.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, c := range []ConnectionState{Unreachable, Checking, Reachable} {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Store field names.
const (
	FieldConnection    = "connection"
	FieldPrinting      = "printing"
	FieldPaused        = "paused"
	FieldHeatingUp     = "heatingUp"
	FieldOperational   = "operational"
	FieldReady         = "ready"
	FieldError         = "error"
	FieldStateText     = "stateText"
	FieldCamera        = "camera"
	FieldTemps         = "temps"
	FieldProgress      = "progress"
	FieldTool          = "tool"
	FieldPrintingSpeed = "printingSpeed"
	FieldPrintingFlow  = "printingFlow"
)

// Temperature is one heating zone reading in °C.
type Temperature struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

// Temperatures holds the latest reading of every heating zone.
type Temperatures struct {
	Bed   Temperature            `json:"bed"`
	Tools map[string]Temperature `json:"tools"`
}

// JobProgress describes the active print job.
type JobProgress struct {
	Filename      string  `json:"filename"`
	RenderedImage string  `json:"renderedImage,omitempty"`
	Percent       float64 `json:"percent"`
	TimeElapsed   float64 `json:"timeElapsed"`
	TimeLeft      float64 `json:"timeLeft"`
	EstimatedTime float64 `json:"estimatedTime"`
	CurrentLayer  int     `json:"currentLayer"`
	LayerCount    int     `json:"layerCount"`
}

// DeviceStatus is a point-in-time copy of every field the Store tracks.
type DeviceStatus struct {
	Connection    ConnectionState
	Printing      bool
	Paused        bool
	HeatingUp     bool
	Operational   bool
	Ready         bool
	Error         bool
	StateText     string
	Camera        bool
	Temps         Temperatures
	Progress      JobProgress
	Tool          int
	PrintingSpeed int
	PrintingFlow  int
}

// Display states, in precedence order.
const (
	DisplayPaused   = "paused"
	DisplayPrinting = "printing"
	DisplayIdle     = "idle"
	DisplayOffline  = "offline"
)

// DisplayState collapses the printer flags into one label. Paused wins over
// printing, since the appliance may report both while a pause is settling.
func (s DeviceStatus) DisplayState() string {
	switch {
	case s.Paused:
		return DisplayPaused
	case s.Printing:
		return DisplayPrinting
	case s.Operational:
		return DisplayIdle
	default:
		return DisplayOffline
	}
}

// Bootstrap converts a snapshot back into seed state, so a later client can
// start from what this one last saw. The connection state is not carried.
func (s DeviceStatus) Bootstrap() Bootstrap {
	return Bootstrap{
		Printing:      s.Printing,
		Paused:        s.Paused,
		HeatingUp:     s.HeatingUp,
		Operational:   s.Operational,
		Ready:         s.Ready,
		Error:         s.Error,
		StateText:     s.StateText,
		Camera:        s.Camera,
		Temps:         s.Temps,
		Progress:      s.Progress,
		Tool:          s.Tool,
		PrintingSpeed: s.PrintingSpeed,
		PrintingFlow:  s.PrintingFlow,
	}
}

// Bootstrap is the state the appliance was in when the client was started,
// typically parsed from the page the appliance served.
type Bootstrap struct {
	Printing      bool         `json:"printing"`
	Paused        bool         `json:"paused"`
	HeatingUp     bool         `json:"heatingUp"`
	Operational   bool         `json:"operational"`
	Ready         bool         `json:"ready"`
	Error         bool         `json:"error"`
	StateText     string       `json:"stateText"`
	Camera        bool         `json:"camera"`
	Temps         Temperatures `json:"temps"`
	Progress      JobProgress  `json:"progress"`
	Tool          int          `json:"tool"`
	PrintingSpeed int          `json:"printingSpeed"`
	PrintingFlow  int          `json:"printingFlow"`
}

func (b Bootstrap) fields() map[string]any {
	temps := b.Temps
	if temps.Tools == nil {
		temps.Tools = map[string]Temperature{}
	}
	speed, flow := b.PrintingSpeed, b.PrintingFlow
	if speed == 0 {
		speed = 100
	}
	if flow == 0 {
		flow = 100
	}
	return map[string]any{
		FieldConnection:    Unreachable,
		FieldPrinting:      b.Printing,
		FieldPaused:        b.Paused,
		FieldHeatingUp:     b.HeatingUp,
		FieldOperational:   b.Operational,
		FieldReady:         b.Ready,
		FieldError:         b.Error,
		FieldStateText:     b.StateText,
		FieldCamera:        b.Camera,
		FieldTemps:         temps,
		FieldProgress:      b.Progress,
		FieldTool:          b.Tool,
		FieldPrintingSpeed: speed,
		FieldPrintingFlow:  flow,
	}
}
