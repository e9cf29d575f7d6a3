package domain

import (
	"time"
)

// ElementKind is the drawable type of a whiteboard element.
type ElementKind string

const (
	KindLine      ElementKind = "line"
	KindRectangle ElementKind = "rectangle"
	KindCircle    ElementKind = "circle"
	KindArrow     ElementKind = "arrow"
	KindText      ElementKind = "text"
	KindImage     ElementKind = "image"
	KindFormula   ElementKind = "formula"
)

// Position is a point on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the extent of an element.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one drawable object on the whiteboard. IDs are opaque and
// producer-assigned; the document does not enforce uniqueness. Props is a
// free-form style/content bag.
type Element struct {
	ID       string         `json:"id"`
	Kind     ElementKind    `json:"kind"`
	Position *Position      `json:"position,omitempty"`
	Size     *Size          `json:"size,omitempty"`
	Points   []Position     `json:"points,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Z        int            `json:"z"`
}

// Clone returns a deep copy of the element. Exported snapshots are copies;
// nothing outside the document may hold references to its elements.
func (e Element) Clone() Element {
	out := e
	if e.Position != nil {
		p := *e.Position
		out.Position = &p
	}
	if e.Size != nil {
		s := *e.Size
		out.Size = &s
	}
	if e.Points != nil {
		out.Points = make([]Position, len(e.Points))
		copy(out.Points, e.Points)
	}
	if e.Props != nil {
		out.Props = make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			out.Props[k] = v
		}
	}
	return out
}

// CommandAction is the kind of mutation a command requests.
type CommandAction string

const (
	ActionAdd    CommandAction = "add"
	ActionUpdate CommandAction = "update"
	ActionDelete CommandAction = "delete"
	ActionMove   CommandAction = "move"
)

// Command is a single whiteboard mutation request. The element payload fields
// are inline: add uses all of them, update shallow-merges the ones that are
// present, move reads only Position, delete reads only ID.
type Command struct {
	Action   CommandAction  `json:"action"`
	ID       string         `json:"id"`
	Kind     ElementKind    `json:"kind,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Size     *Size          `json:"size,omitempty"`
	Points   []Position     `json:"points,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Z        *int           `json:"z,omitempty"`
}

// Canvas holds whiteboard metadata.
type Canvas struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Background string  `json:"background"`
}

// WhiteboardSnapshot is an exported copy of a whiteboard document's state,
// used for persistence and for priming the AI call.
type WhiteboardSnapshot struct {
	SessionID    string    `json:"session_id"`
	Version      int       `json:"version"`
	Elements     []Element `json:"elements"`
	Canvas       Canvas    `json:"canvas"`
	Actions      int       `json:"actions"`
	LastModified time.Time `json:"last_modified"`
}
