package timeline

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/note"
)

type document struct {
	Name   string              `json:"name,omitempty"`
	BPM    float64             `json:"bpm,omitempty"`
	Events []note.RawNoteEvent `json:"events"`
}

// ParseJSON accepts either a bare array of note records or an object with
// "name", "bpm" and "events".
func ParseJSON(data []byte) (Timeline, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var events []note.RawNoteEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return Timeline{}, errors.Wrap(err, "decode timeline")
		}
		return Timeline{Events: events}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Timeline{}, errors.Wrap(err, "decode timeline")
	}
	return Timeline{Name: doc.Name, BPM: doc.BPM, Events: doc.Events}, nil
}

func LoadJSON(path string) (Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Timeline{}, errors.Wrapf(err, "read %s", path)
	}
	tl, err := ParseJSON(data)
	if err != nil {
		return Timeline{}, errors.Wrapf(err, "%s", path)
	}
	return tl, nil
}

// WriteJSON writes tl in the object form read by ParseJSON.
func WriteJSON(w io.Writer, tl Timeline) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	doc := document{Name: tl.Name, BPM: tl.BPM, Events: tl.Events}
	if doc.Events == nil {
		doc.Events = []note.RawNoteEvent{}
	}
	return errors.Wrap(enc.Encode(doc), "encode timeline")
}
