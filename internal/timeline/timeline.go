// Package timeline loads note records from the formats sessions are authored
// in: JSON, Standard MIDI Files and step grids.
package timeline

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/notesched/internal/note"
)

var ErrUnsupportedFormat = errors.New("unsupported timeline format")

// Timeline is a loaded sequence of note records. BPM is the tempo the source
// declares, or 0 when it carries none.
type Timeline struct {
	Name   string
	BPM    float64
	Events []note.RawNoteEvent
}

// Load reads a timeline file, choosing the decoder by extension. opts only
// applies to MIDI files.
func Load(path string, opts SMFOptions) (Timeline, error) {
	var (
		tl  Timeline
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		tl, err = LoadJSON(path)
	case ".mid", ".midi", ".smf":
		tl, err = LoadSMF(path, opts)
	default:
		return Timeline{}, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
	if err != nil {
		return Timeline{}, err
	}
	if tl.Name == "" {
		tl.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tl, nil
}
