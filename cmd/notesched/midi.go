package main

import (
	"strings"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/notesched/internal/instrument"
)

// openPort opens the first MIDI output whose name contains name. An empty
// name picks the first output.
func openPort(name string) (instrument.Sender, error) {
	for _, port := range midi.GetOutPorts() {
		if name != "" && !strings.Contains(port.String(), name) {
			continue
		}
		send, err := midi.SendTo(port)
		if err != nil {
			return nil, errors.Wrapf(err, "open midi output %s", port.String())
		}
		return send, nil
	}
	return nil, errors.Errorf("no midi output matching %q", name)
}
