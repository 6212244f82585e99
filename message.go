package astrobox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Sub-message names carried in a push frame.
const (
	msgConnected = "connected"
	msgCurrent   = "current"
	msgEvent     = "event"
	msgCommsData = "commsData"
)

// member is one named sub-message of a frame, kept in wire order.
type member struct {
	name  string
	value json.RawMessage
}

// parseFrame splits a JSON object into its members in the order they appear
// in the text. The whole frame is rejected if any part of it is malformed.
func parseFrame(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("frame is not a JSON object")
	}

	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read member name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("member name %v is not a string", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read member %q: %w", name, err)
		}
		members = append(members, member{name: name, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read frame end: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after frame")
	}
	return members, nil
}

// connectedMessage is the handshake sent first on every session.
type connectedMessage struct {
	APIKey    string `json:"apikey"`
	SessionID string `json:"sessionId"`
}

func (m connectedMessage) validate() error {
	if m.APIKey == "" {
		return errors.New("connected: apikey is empty")
	}
	if m.SessionID == "" {
		return errors.New("connected: sessionId is empty")
	}
	return nil
}

// currentMessage is the periodic status snapshot. Absent sections leave the
// corresponding store fields untouched.
type currentMessage struct {
	State *struct {
		Text  *string     `json:"text"`
		Flags *stateFlags `json:"flags"`
	} `json:"state"`
	Job           *jobInfo      `json:"job"`
	Progress      *progressInfo `json:"progress"`
	Temps         []tempsEntry  `json:"temps"`
	Camera        *bool         `json:"camera"`
	Tool          *int          `json:"tool"`
	PrintingSpeed *int          `json:"printing_speed"`
	PrintingFlow  *int          `json:"printing_flow"`
}

type stateFlags struct {
	Operational bool `json:"operational"`
	Printing    bool `json:"printing"`
	Paused      bool `json:"paused"`
	Ready       bool `json:"ready"`
	Error       bool `json:"error"`
	HeatingUp   bool `json:"heatingUp"`
}

type jobInfo struct {
	File struct {
		Name          string `json:"name"`
		RenderedImage string `json:"rendered_image"`
	} `json:"file"`
	EstimatedPrintTime float64 `json:"estimatedPrintTime"`
	LayerCount         int     `json:"layerCount"`
}

type progressInfo struct {
	Completion    float64 `json:"completion"`
	PrintTime     float64 `json:"printTime"`
	PrintTimeLeft float64 `json:"printTimeLeft"`
	CurrentLayer  int     `json:"currentLayer"`
}

// tempsEntry is one sample of the temperature history; the newest is last.
type tempsEntry struct {
	Time  float64                `json:"time"`
	Bed   *Temperature           `json:"bed"`
	Tools map[string]Temperature `json:"tools"`
}

// eventMessage carries a discriminated event.
type eventMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("payload is empty")
	}
	return json.Unmarshal(data, v)
}
