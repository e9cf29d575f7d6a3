// Package whiteboard implements the versioned shared drawing-surface document
// and the algorithm that applies an ordered command batch to it.
package whiteboard

import (
	"log/slog"
	"reflect"
	"time"

	"github.com/nigamk1/tutorboard/domain"
)

// DefaultCanvas is the canvas metadata a new document starts with.
var DefaultCanvas = domain.Canvas{Width: 1920, Height: 1080, Background: "#ffffff"}

// Document is the single current whiteboard state for one session. It is not
// safe for concurrent use; the coordinator serializes all access per session.
//
// Elements are kept in z/insertion order. An id -> first-index arena map gives
// O(1) average lookup for update/move; duplicate ids are permitted (add never
// deduplicates) and only the first occurrence is indexed, matching the
// documented first-match semantics. delete removes all occurrences.
type Document struct {
	sessionID    string
	version      int
	elements     []domain.Element
	index        map[string]int
	canvas       domain.Canvas
	actions      int
	lastModified time.Time
	logger       *slog.Logger
}

// New creates an empty document for a session at version 1.
func New(sessionID string, logger *slog.Logger) *Document {
	return &Document{
		sessionID:    sessionID,
		version:      1,
		elements:     nil,
		index:        make(map[string]int),
		canvas:       DefaultCanvas,
		lastModified: time.Now(),
		logger:       logger,
	}
}

// FromSnapshot reconstructs a document from a stored snapshot.
func FromSnapshot(snap domain.WhiteboardSnapshot, logger *slog.Logger) *Document {
	d := &Document{
		sessionID:    snap.SessionID,
		version:      snap.Version,
		canvas:       snap.Canvas,
		actions:      snap.Actions,
		lastModified: snap.LastModified,
		logger:       logger,
	}
	d.elements = make([]domain.Element, len(snap.Elements))
	for i, el := range snap.Elements {
		d.elements[i] = el.Clone()
	}
	d.reindex()
	return d
}

// ApplyResult describes the outcome of applying one command batch.
type ApplyResult struct {
	Version int
	Changed bool
	// ChangedElements holds copies of elements added, updated or moved by
	// the batch, in their post-apply state.
	ChangedElements []domain.Element
	// DeletedIDs lists element ids removed by the batch.
	DeletedIDs []string
	// Skipped counts malformed commands that were logged and dropped.
	Skipped int
}

// Apply applies an ordered batch of commands as a single atomic step.
//
// Semantics, preserved for compatibility with existing producers:
//   - add appends without any uniqueness check against existing ids.
//   - update shallow-merges onto the first element with a matching id; a
//     missing id is a silent no-op, not an error.
//   - delete removes all elements with the id (zero or more).
//   - move overwrites the first match's position; missing id is a no-op.
//   - a malformed command is logged and skipped; it never aborts the batch.
//   - the version increments by exactly 1 only when the resulting element
//     list differs from the starting one; the actions counter increments by
//     the full batch length either way.
func (d *Document) Apply(batch []domain.Command) ApplyResult {
	before := d.elements
	working := make([]domain.Element, len(before))
	copy(working, before)

	changed := make(map[string]bool)
	deleted := make(map[string]bool)
	skipped := 0

	for _, cmd := range batch {
		if err := validate(cmd); err != nil {
			skipped++
			d.logger.Warn("skipping malformed command",
				"session_id", d.sessionID, "action", cmd.Action, "id", cmd.ID, "error", err)
			continue
		}

		switch cmd.Action {
		case domain.ActionAdd:
			working = append(working, elementFromCommand(cmd))
			if _, ok := d.index[cmd.ID]; !ok {
				d.index[cmd.ID] = len(working) - 1
			}
			changed[cmd.ID] = true

		case domain.ActionUpdate:
			if i, ok := d.index[cmd.ID]; ok && i < len(working) {
				working[i] = merge(working[i], cmd)
				changed[cmd.ID] = true
			}

		case domain.ActionMove:
			if i, ok := d.index[cmd.ID]; ok && i < len(working) {
				p := *cmd.Position
				working[i].Position = &p
				changed[cmd.ID] = true
			}

		case domain.ActionDelete:
			kept := working[:0]
			removed := false
			for _, el := range working {
				if el.ID == cmd.ID {
					removed = true
					continue
				}
				kept = append(kept, el)
			}
			working = kept
			if removed {
				deleted[cmd.ID] = true
				delete(changed, cmd.ID)
				d.reindexSlice(working)
			}
		}
	}

	d.elements = working
	d.actions += len(batch)
	d.reindex()

	res := ApplyResult{Version: d.version, Skipped: skipped}
	if !equalElements(before, working) {
		d.version++
		d.lastModified = time.Now()
		res.Version = d.version
		res.Changed = true
		for id := range changed {
			if i, ok := d.index[id]; ok {
				res.ChangedElements = append(res.ChangedElements, d.elements[i].Clone())
			}
		}
		for id := range deleted {
			res.DeletedIDs = append(res.DeletedIDs, id)
		}
	}
	return res
}

// Snapshot exports a deep copy of the current state.
func (d *Document) Snapshot() domain.WhiteboardSnapshot {
	elements := make([]domain.Element, len(d.elements))
	for i, el := range d.elements {
		elements[i] = el.Clone()
	}
	return domain.WhiteboardSnapshot{
		SessionID:    d.sessionID,
		Version:      d.version,
		Elements:     elements,
		Canvas:       d.canvas,
		Actions:      d.actions,
		LastModified: d.lastModified,
	}
}

// Version returns the current document version.
func (d *Document) Version() int { return d.version }

// Actions returns the lifetime command counter. It counts every command ever
// submitted, including no-ops, so it can exceed the number of actual
// mutations.
func (d *Document) Actions() int { return d.actions }

func validate(cmd domain.Command) error {
	switch cmd.Action {
	case domain.ActionAdd:
		if cmd.ID == "" || cmd.Kind == "" {
			return domain.ErrMalformedCommand
		}
	case domain.ActionUpdate, domain.ActionDelete:
		if cmd.ID == "" {
			return domain.ErrMalformedCommand
		}
	case domain.ActionMove:
		if cmd.ID == "" || cmd.Position == nil {
			return domain.ErrMalformedCommand
		}
	default:
		return domain.ErrMalformedCommand
	}
	return nil
}

func elementFromCommand(cmd domain.Command) domain.Element {
	el := domain.Element{
		ID:       cmd.ID,
		Kind:     cmd.Kind,
		Position: cmd.Position,
		Size:     cmd.Size,
		Points:   cmd.Points,
		Props:    cmd.Props,
	}
	if cmd.Z != nil {
		el.Z = *cmd.Z
	}
	return el.Clone()
}

// merge applies the update payload onto an element: fields present in the
// command win, everything else is untouched. Props merge per key.
func merge(el domain.Element, cmd domain.Command) domain.Element {
	out := el.Clone()
	if cmd.Kind != "" {
		out.Kind = cmd.Kind
	}
	if cmd.Position != nil {
		p := *cmd.Position
		out.Position = &p
	}
	if cmd.Size != nil {
		s := *cmd.Size
		out.Size = &s
	}
	if cmd.Points != nil {
		out.Points = make([]domain.Position, len(cmd.Points))
		copy(out.Points, cmd.Points)
	}
	if cmd.Z != nil {
		out.Z = *cmd.Z
	}
	if len(cmd.Props) > 0 {
		if out.Props == nil {
			out.Props = make(map[string]any, len(cmd.Props))
		}
		for k, v := range cmd.Props {
			out.Props[k] = v
		}
	}
	return out
}

func (d *Document) reindex() {
	d.reindexSlice(d.elements)
}

func (d *Document) reindexSlice(elements []domain.Element) {
	d.index = make(map[string]int, len(elements))
	for i, el := range elements {
		if _, ok := d.index[el.ID]; !ok {
			d.index[el.ID] = i
		}
	}
}

func equalElements(a, b []domain.Element) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
