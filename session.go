// Package notesched schedules note events from a timeline onto synthesizers,
// samplers and MIDI devices against a sample-accurate audio clock.
package notesched

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/notesched/internal/config"
	"github.com/cbegin/notesched/internal/instrument"
	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/render"
	"github.com/cbegin/notesched/internal/scheduler"
	"github.com/cbegin/notesched/internal/transport"
)

// EventKind values delivered by Watch.
const (
	EventLoopCompleted = scheduler.EventLoopCompleted
	EventPlaybackEnded = scheduler.EventPlaybackEnded
)

// PlaybackEvent carries session lifecycle events from Watch().
type PlaybackEvent struct {
	Kind    scheduler.EventKind
	Session string
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	loopPlayback      bool
	tempo             float64
	stepsPerBeat      float64
	lookahead         float64
	passInterval      time.Duration
	bufferSize        time.Duration
	defaultInstrument string
	sampleTap         func([]float32)
	log               logrus.FieldLogger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		tempo:             transport.DefaultTempo,
		stepsPerBeat:      transport.DefaultStepsPerBeat,
		lookahead:         scheduler.DefaultLookahead,
		passInterval:      scheduler.DefaultPassInterval,
		defaultInstrument: "lead",
		log:               logrus.StandardLogger(),
	}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

func WithTempo(bpm float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.tempo = bpm
	}
}

func WithStepsPerBeat(n float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.stepsPerBeat = n
	}
}

// WithLookahead sets how far ahead of the audio clock notes are dispatched.
func WithLookahead(seconds float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.lookahead = seconds
	}
}

func WithPassInterval(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.passInterval = d
	}
}

// WithBufferSize sets the audio output buffer. The lookahead should exceed it.
func WithBufferSize(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.bufferSize = d
	}
}

// WithDefaultInstrument routes events without an instrument id.
func WithDefaultInstrument(id string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.defaultInstrument = id
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

func WithLogger(log logrus.FieldLogger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.log = log
	}
}

// OptionsFromConfig translates a session file into player options.
func OptionsFromConfig(cfg *config.Config) []PlayerOption {
	return []PlayerOption{
		WithTempo(cfg.Tempo),
		WithStepsPerBeat(cfg.StepsPerBeat),
		WithLookahead(cfg.Lookahead),
		WithPassInterval(time.Duration(cfg.PassInterval)),
		WithLoopPlayback(cfg.Loop),
		WithDefaultInstrument(cfg.DefaultInstrument),
	}
}

// PortOpener returns a sender for the MIDI output whose name contains port.
type PortOpener func(port string) (instrument.Sender, error)

// Session wires the scheduling engine to a mixer whose frame counter is the
// audio clock. It produces samples only when Process is called, by an audio
// output or an offline render loop.
type Session struct {
	cfg       playerConfig
	log       logrus.FieldLogger
	mixer     *render.Mixer
	transport *transport.Transport
	scheduler *scheduler.Scheduler

	listenMu sync.Mutex
	listen   func(PlaybackEvent)
}

func NewSession(sampleRate int, opts ...PlayerOption) (*Session, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Session{cfg: cfg, log: cfg.log, mixer: render.NewMixer(sampleRate)}
	s.mixer.SetTap(cfg.sampleTap)
	s.transport = transport.New(s.mixer,
		transport.WithTempo(cfg.tempo),
		transport.WithStepsPerBeat(cfg.stepsPerBeat),
	)
	s.scheduler = scheduler.New(s.transport, scheduler.Options{
		Lookahead:         cfg.lookahead,
		PassInterval:      cfg.passInterval,
		Loop:              cfg.loopPlayback,
		DefaultInstrument: cfg.defaultInstrument,
		OnEvent:           s.onEvent,
		Logger:            cfg.log,
	})
	return s, nil
}

func (s *Session) onEvent(kind scheduler.EventKind) {
	s.listenMu.Lock()
	fn := s.listen
	s.listenMu.Unlock()
	if fn != nil {
		fn(PlaybackEvent{Kind: kind, Session: s.scheduler.SessionID()})
	}
}

func (s *Session) setListener(fn func(PlaybackEvent)) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listen = fn
}

func (s *Session) instrumentOptions(id string, extra ...instrument.Option) []instrument.Option {
	return append([]instrument.Option{instrument.WithName(id), instrument.WithLogger(s.log)}, extra...)
}

// AddSynth registers a wavetable synth under id.
func (s *Session) AddSynth(id string, params render.Params, opts ...instrument.Option) (*instrument.Synth, error) {
	syn := instrument.NewWavetableSynth(s.mixer, params, s.instrumentOptions(id, opts...)...)
	if err := s.scheduler.Register(id, syn); err != nil {
		return nil, err
	}
	return syn, nil
}

// AddSampler registers a sample player over zones under id.
func (s *Session) AddSampler(id string, params render.SampleParams, zones render.Zones, opts ...instrument.Option) (*instrument.Sampler, error) {
	smp := instrument.NewSamplePlayerSampler(s.mixer, params, zones, s.instrumentOptions(id, opts...)...)
	if err := s.scheduler.Register(id, smp); err != nil {
		return nil, err
	}
	return smp, nil
}

// AddMIDIOut registers an external MIDI output under id.
func (s *Session) AddMIDIOut(id string, send instrument.Sender, channel uint8, opts ...instrument.Option) (*instrument.MIDIOut, error) {
	out := instrument.NewMIDIOut(send, channel, s.instrumentOptions(id, opts...)...)
	if err := s.scheduler.Register(id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register adds a caller-provided instrument. It must implement
// Trigger and Release.
func (s *Session) Register(id string, inst any) error {
	return s.scheduler.Register(id, inst)
}

// Configure registers every instrument of cfg and applies its loop region
// and gain. open is only needed for midi instruments.
func (s *Session) Configure(cfg *config.Config, open PortOpener) error {
	for _, ic := range cfg.Instruments {
		var opts []instrument.Option
		if ic.MaxVoices > 0 {
			opts = append(opts, instrument.WithMaxVoices(ic.MaxVoices))
		}
		if ic.OneShot > 0 {
			opts = append(opts, instrument.WithOneShotSeconds(ic.OneShot))
		}
		if ic.ReleaseTail > 0 {
			opts = append(opts, instrument.WithReleaseTail(ic.ReleaseTail))
		}
		var err error
		switch ic.Kind {
		case config.KindSynth:
			_, err = s.AddSynth(ic.ID, ic.Params(), opts...)
		case config.KindSampler:
			_, err = s.AddSampler(ic.ID, ic.SampleParams(), s.pluckZones(ic), opts...)
		case config.KindMIDI:
			if ic.Voices > 0 {
				opts = append(opts, instrument.WithVoices(ic.Voices))
			}
			err = s.addConfiguredMIDI(ic, open, opts)
		default:
			err = errors.Wrapf(config.ErrInvalidConfig, "unknown kind %q", ic.Kind)
		}
		if err != nil {
			return errors.Wrapf(err, "instrument %s", ic.ID)
		}
	}
	if r := cfg.LoopRegion; r != nil {
		if err := s.transport.SetLoop(r.Start, r.End); err != nil {
			return err
		}
	}
	s.mixer.SetGain(cfg.MasterGain)
	return nil
}

func (s *Session) addConfiguredMIDI(ic config.Instrument, open PortOpener, opts []instrument.Option) error {
	if open == nil {
		return errors.New("no midi driver available")
	}
	send, err := open(ic.Port)
	if err != nil {
		return err
	}
	_, err = s.AddMIDIOut(ic.ID, send, ic.MIDIChannel(), opts...)
	return err
}

// pluckZones builds the generated key map for a sampler: one zone per root,
// or a single zone at middle C.
func (s *Session) pluckZones(ic config.Instrument) render.Zones {
	roots := ic.Roots
	if len(roots) == 0 {
		roots = []int{note.MiddleC}
	}
	secs := ic.SampleSecs
	if secs <= 0 {
		secs = 1
	}
	zones := make([]render.Zone, 0, len(roots))
	for _, root := range roots {
		zones = append(zones, render.PluckZone(s.mixer.SampleRate(), root, secs))
	}
	return render.NewZones(zones...)
}

// Start begins a new session with events, stopping any running one. A
// positive bpm replaces the transport tempo first.
func (s *Session) Start(events []note.RawNoteEvent, bpm float64) {
	if bpm > 0 {
		s.transport.SetTempo(bpm)
	}
	s.scheduler.Start(events)
}

// Pass runs one scheduling pass.
func (s *Session) Pass() int { return s.scheduler.Pass() }

// Process renders the next len(dst)/2 frames and advances the clock.
func (s *Session) Process(dst []float32) { s.mixer.Process(dst) }

// Enqueue adds events to the running session.
func (s *Session) Enqueue(events ...note.RawNoteEvent) error {
	return s.scheduler.Enqueue(events...)
}

// Stop releases every sounding note and ends the session.
func (s *Session) Stop() { s.scheduler.Stop() }

// Drained reports whether the session has nothing left to schedule.
func (s *Session) Drained() bool { return s.scheduler.Drained() }

// SetTempo changes the tempo for events converted from now on and returns
// the value applied after clamping.
func (s *Session) SetTempo(bpm float64) float64 { return s.transport.SetTempo(bpm) }

func (s *Session) Tempo() float64 { return s.transport.Tempo() }

// SetLoop sets the loop region in steps used by loop playback.
func (s *Session) SetLoop(startStep, endStep float64) error {
	return s.transport.SetLoop(startStep, endStep)
}

func (s *Session) ClearLoop() { s.transport.ClearLoop() }

// CurrentSeconds is the audio clock: frames rendered divided by the sample
// rate.
func (s *Session) CurrentSeconds() float64 { return s.transport.CurrentSeconds() }

func (s *Session) SampleRate() int { return s.mixer.SampleRate() }

// SetMasterVolume sets the output gain. Negative values clamp to 0.
func (s *Session) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	s.mixer.SetGain(volume)
}

func (s *Session) MasterVolume() float64 { return s.mixer.Gain() }

// Instruments lists the registered instrument ids.
func (s *Session) Instruments() []string { return s.scheduler.Instruments() }

// ActiveVoices is the number of voices currently sounding in the mixer.
func (s *Session) ActiveVoices() int { return s.mixer.ActiveVoiceCount() }
