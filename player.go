package notesched

import (
	"context"
	"sync"
	"time"

	intaudio "github.com/cbegin/notesched/internal/audio"
	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeline"
)

// Player plays sessions live through the system audio output.
type Player struct {
	*Session

	mu     sync.Mutex
	out    *intaudio.Output
	cancel context.CancelFunc
	done   chan struct{}

	watchMu sync.Mutex
	watch   chan PlaybackEvent
}

// NewPlayer creates a player without instruments. Register some with
// AddSynth, AddSampler, AddMIDIOut or Configure before Play. The audio
// output is opened by the first Play.
func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	s, err := NewSession(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	p := &Player{Session: s}
	s.setListener(p.deliver)
	return p, nil
}

// Play starts tl from the current audio clock, replacing any running session.
func (p *Player) Play(tl timeline.Timeline) error {
	return p.PlayEvents(tl.Events, tl.BPM)
}

// PlayEvents starts events from the current audio clock. A positive bpm sets
// the tempo first.
func (p *Player) PlayEvents(events []note.RawNoteEvent, bpm float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.out == nil {
		out, err := intaudio.Open(p.SampleRate(), p.Session, p.cfg.bufferSize)
		if err != nil {
			return err
		}
		p.out = out
		p.out.Start()
	}
	p.cancelRunLocked()

	p.Session.Start(events, bpm)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		if err := p.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("scheduler stopped")
		}
	}()
	return nil
}

// cancelRunLocked ends the pass loop and waits for it.
func (p *Player) cancelRunLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

// deliver forwards an event to the Watch channel, dropping it when the
// channel is full.
func (p *Player) deliver(ev PlaybackEvent) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watch == nil {
		return
	}
	select {
	case p.watch <- ev:
	default:
		p.log.WithField("event", ev.Kind).Debug("watch channel full")
	}
}

// Pause suspends the audio output. The clock stops with it, so queued notes
// keep their place.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		p.out.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		p.out.Start()
	}
}

// Stop releases every sounding note and ends the session. The audio output
// stays open so release tails ring out; Close shuts it.
func (p *Player) Stop() {
	p.Session.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelRunLocked()
}

// Close stops playback and closes the audio output.
func (p *Player) Close() error {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

// Wait blocks until the current session has drained, including release
// tails, or was stopped. A looping session only ends with Stop. Wait returns
// at once if nothing was played.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel receiving EventLoopCompleted at every loop re-arm
// and EventPlaybackEnded when the session finishes or stops. It holds 8
// events; later ones are dropped while it is full. Each call replaces the
// previous channel.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.watchMu.Lock()
	p.watch = ch
	p.watchMu.Unlock()
	return ch
}

// PlaybackPosition is what the listener has heard, which trails
// CurrentSeconds by the device buffer. It is 0 before the first Play.
func (p *Player) PlaybackPosition() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return 0
	}
	return p.out.Position()
}
