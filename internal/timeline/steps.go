package timeline

import (
	"strings"

	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeconv"
)

// Row is one pitch lane of a step grid.
type Row struct {
	Pitch      note.Pitch
	Velocity   note.Velocity
	Instrument string
	Steps      []bool
}

// Grid is a drum-machine style pattern: every active cell triggers its row's
// pitch at that step.
type Grid struct {
	Rows []Row
	// Length is the note length in steps for every cell. Zero means one
	// step; a negative value makes every cell a one-shot.
	Length int
}

// Columns returns the number of steps in the longest row.
func (g Grid) Columns() int {
	n := 0
	for _, r := range g.Rows {
		n = max(n, len(r.Steps))
	}
	return n
}

// Events lists the active cells column by column, rows in order within a
// column.
func (g Grid) Events() []note.RawNoteEvent {
	var out []note.RawNoteEvent
	for col := 0; col < g.Columns(); col++ {
		for _, r := range g.Rows {
			if col >= len(r.Steps) || !r.Steps[col] {
				continue
			}
			ev := note.RawNoteEvent{
				Time:       float64(col),
				Pitch:      r.Pitch,
				Velocity:   r.Velocity,
				Instrument: r.Instrument,
			}
			switch {
			case g.Length < 0:
				ev.Duration = timeconv.TriggerToken
			case g.Length == 0:
				ev.Length = note.Steps(1)
			default:
				ev.Length = note.Steps(g.Length)
			}
			out = append(out, ev)
		}
	}
	return out
}

// Timeline wraps the grid's events.
func (g Grid) Timeline() Timeline {
	return Timeline{Events: g.Events()}
}

// ParsePattern reads a row such as "x...x..x" where x, X, 1 and * mark
// active steps. Spaces and bar lines are ignored.
func ParsePattern(pattern string) []bool {
	var steps []bool
	for _, c := range pattern {
		switch {
		case c == ' ' || c == '|':
		case strings.ContainsRune("xX1*", c):
			steps = append(steps, true)
		default:
			steps = append(steps, false)
		}
	}
	return steps
}
