package action

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindClick   Kind = "click"
	KindType    Kind = "type"
	KindScroll  Kind = "scroll"
	KindExtract Kind = "extract"
	KindDone    Kind = "done"
	KindAsk     Kind = "ask"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Proposal is one candidate screen action produced by the upstream
// vision/planner side. It is consumed once by the permission gate and,
// when allowed, by the executor; it is never persisted.
type Proposal struct {
	Action       Kind    `json:"action"`
	X            *int    `json:"x,omitempty"`
	Y            *int    `json:"y,omitempty"`
	Text         string  `json:"text,omitempty"`
	Direction    string  `json:"direction,omitempty"`
	Amount       int     `json:"amount,omitempty"`
	Region       []int   `json:"region,omitempty"` // [x, y, width, height]
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
	TaskComplete bool    `json:"task_complete,omitempty"`
}

// HasPoint reports whether the proposal carries both coordinates.
func (p Proposal) HasPoint() bool {
	return p.X != nil && p.Y != nil
}

// Validate checks per-kind preconditions. A proposal that fails here must
// never reach the broker or produce an input event.
func (p Proposal) Validate() error {
	switch p.Action {
	case KindClick:
		if !p.HasPoint() {
			return fmt.Errorf("click action requires x and y coordinates")
		}
	case KindType:
		if p.Text == "" {
			return fmt.Errorf("type action requires text")
		}
	case KindScroll:
		switch p.Direction {
		case DirectionUp, DirectionDown:
		case "":
			return fmt.Errorf("scroll action requires direction %q or %q", DirectionUp, DirectionDown)
		default:
			return fmt.Errorf("invalid scroll direction: %q", p.Direction)
		}
	case KindExtract:
		if len(p.Region) != 0 && len(p.Region) != 4 {
			return fmt.Errorf("extract region must be [x, y, width, height], got %d values", len(p.Region))
		}
	case KindDone, KindAsk:
	case "":
		return fmt.Errorf("missing action")
	default:
		return fmt.Errorf("unknown action type: %q", p.Action)
	}
	return nil
}

// ScrollAmount returns the requested scroll magnitude, defaulting to 3.
func (p Proposal) ScrollAmount() int {
	if p.Amount <= 0 {
		return 3
	}
	return p.Amount
}

func (p *Proposal) normalize() {
	p.Action = Kind(strings.ToLower(strings.TrimSpace(string(p.Action))))
	p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
	p.Description = strings.TrimSpace(p.Description)
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
}
