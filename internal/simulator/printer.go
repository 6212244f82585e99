package simulator

import (
	"encoding/json"
	"maps"
	"time"

	astrobox "github.com/astroprint/astrobox-go"
)

const (
	ambientTemp   = 20.0
	heatingRate   = 5.0 // °C per second
	defaultFile   = "simulated.gcode"
	defaultJobLen = 600.0 // seconds
)

// Printer is the simulated printer state.
type Printer struct {
	Operational bool
	Printing    bool
	Paused      bool
	Ready       bool

	File               string
	EstimatedPrintTime float64
	LayerCount         int
	Completion         float64
	PrintTime          float64

	Bed   astrobox.Temperature
	Tools map[string]astrobox.Temperature

	Camera bool
	Tool   int
	Speed  int
	Flow   int
}

func (p Printer) withDefaults() Printer {
	if p.Tools == nil {
		p.Tools = map[string]astrobox.Temperature{"0": {Actual: ambientTemp}}
	}
	if p.Bed.Actual == 0 {
		p.Bed.Actual = ambientTemp
	}
	if p.Speed == 0 {
		p.Speed = 100
	}
	if p.Flow == 0 {
		p.Flow = 100
	}
	return p
}

func (p Printer) clone() Printer {
	p.Tools = maps.Clone(p.Tools)
	return p
}

func (p Printer) heatingUp() bool {
	if p.Bed.Target > 0 && p.Bed.Actual < p.Bed.Target-1 {
		return true
	}
	for _, t := range p.Tools {
		if t.Target > 0 && t.Actual < t.Target-1 {
			return true
		}
	}
	return false
}

func (p Printer) stateText() string {
	switch {
	case p.Paused:
		return "Paused"
	case p.Printing:
		return "Printing"
	case p.Operational:
		return "Operational"
	default:
		return "Offline"
	}
}

func (p *Printer) startJob() {
	if p.File == "" {
		p.File = defaultFile
	}
	if p.EstimatedPrintTime <= 0 {
		p.EstimatedPrintTime = defaultJobLen
	}
	p.Printing = true
	p.Paused = false
	p.Completion = 0
	p.PrintTime = 0
}

func (p *Printer) stopJob() {
	p.Printing = false
	p.Paused = false
}

// tick advances temperatures and the active job by d.
func (p *Printer) tick(d time.Duration) {
	step := heatingRate * d.Seconds()
	p.Bed = approach(p.Bed, step)
	for k, t := range p.Tools {
		p.Tools[k] = approach(t, step)
	}

	if !p.Printing || p.Paused {
		return
	}
	p.PrintTime += d.Seconds() * float64(p.Speed) / 100
	p.Completion = min(100, 100*p.PrintTime/p.EstimatedPrintTime)
	if p.Completion >= 100 {
		p.stopJob()
	}
}

func approach(t astrobox.Temperature, step float64) astrobox.Temperature {
	target := max(t.Target, ambientTemp)
	switch {
	case t.Actual < target:
		t.Actual = min(target, t.Actual+step)
	case t.Actual > target:
		t.Actual = max(target, t.Actual-step)
	}
	return t
}

type wireFlags struct {
	Operational bool `json:"operational"`
	Printing    bool `json:"printing"`
	Paused      bool `json:"paused"`
	Ready       bool `json:"ready"`
	Error       bool `json:"error"`
	HeatingUp   bool `json:"heatingUp"`
}

type wireFile struct {
	Name string `json:"name"`
}

type wireJob struct {
	File               wireFile `json:"file"`
	EstimatedPrintTime float64  `json:"estimatedPrintTime"`
	LayerCount         int      `json:"layerCount"`
}

type wireProgress struct {
	Completion    float64 `json:"completion"`
	PrintTime     float64 `json:"printTime"`
	PrintTimeLeft float64 `json:"printTimeLeft"`
	CurrentLayer  int     `json:"currentLayer"`
}

type wireTemps struct {
	Time  int64                           `json:"time"`
	Bed   astrobox.Temperature            `json:"bed"`
	Tools map[string]astrobox.Temperature `json:"tools"`
}

type wireState struct {
	Text  string    `json:"text"`
	Flags wireFlags `json:"flags"`
}

type wireCurrent struct {
	State         wireState     `json:"state"`
	Job           *wireJob      `json:"job,omitempty"`
	Progress      *wireProgress `json:"progress,omitempty"`
	Temps         []wireTemps   `json:"temps"`
	Camera        bool          `json:"camera"`
	Tool          int           `json:"tool"`
	PrintingSpeed int           `json:"printing_speed"`
	PrintingFlow  int           `json:"printing_flow"`
}

// current renders the printer as a current message.
func (p Printer) current() []byte {
	msg := wireCurrent{
		State: wireState{
			Text: p.stateText(),
			Flags: wireFlags{
				Operational: p.Operational,
				Printing:    p.Printing,
				Paused:      p.Paused,
				Ready:       p.Ready,
				HeatingUp:   p.heatingUp(),
			},
		},
		Temps: []wireTemps{{
			Time:  time.Now().Unix(),
			Bed:   p.Bed,
			Tools: maps.Clone(p.Tools),
		}},
		Camera:        p.Camera,
		Tool:          p.Tool,
		PrintingSpeed: p.Speed,
		PrintingFlow:  p.Flow,
	}
	if p.Printing || p.Paused {
		msg.Job = &wireJob{
			File:               wireFile{Name: p.File},
			EstimatedPrintTime: p.EstimatedPrintTime,
			LayerCount:         p.LayerCount,
		}
		msg.Progress = &wireProgress{
			Completion:    p.Completion,
			PrintTime:     p.PrintTime,
			PrintTimeLeft: max(0, p.EstimatedPrintTime-p.PrintTime),
			CurrentLayer:  int(float64(p.LayerCount) * p.Completion / 100),
		}
	}
	data, _ := json.Marshal(map[string]any{"current": msg})
	return data
}
