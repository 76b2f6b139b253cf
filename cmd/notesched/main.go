package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/notesched"
	"github.com/cbegin/notesched/internal/config"
	"github.com/cbegin/notesched/internal/note"
	"github.com/cbegin/notesched/internal/timeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	defer midi.CloseDriver()

	var err error
	switch os.Args[1] {
	case "play":
		err = runPlay(os.Args[2:])
	case "render":
		err = runRender(os.Args[2:])
	case "convert":
		err = runConvert(os.Args[2:])
	case "ports":
		err = runPorts()
	case "help", "-h", "--help":
		usage()
	default:
		logrus.Errorf("unknown command %q", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		logrus.WithError(err).Fatal(os.Args[1])
	}
}

func usage() {
	fmt.Println("notesched - schedule note timelines onto synths, samplers and MIDI outputs")
	fmt.Println("")
	fmt.Println("usage:")
	fmt.Println("  notesched play    [options] [timeline.json|timeline.mid]")
	fmt.Println("  notesched render  [options] -o out.wav [timeline]")
	fmt.Println("  notesched convert [options] in.(json|mid) out.(json|mid)")
	fmt.Println("  notesched ports")
	fmt.Println("")
	fmt.Println("Without a timeline, play and render use a built-in step pattern.")
}

// common holds the flags shared by every command that loads a session.
type common struct {
	configPath   string
	logLevel     string
	sampleRate   int
	tempo        float64
	stepsPerBeat float64
	volume       float64
	loop         bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "session config file (JSON)")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.IntVar(&c.sampleRate, "sample-rate", 0, "output sample rate (0 = config)")
	fs.Float64Var(&c.tempo, "tempo", 0, "tempo in BPM, overriding config and file tempo")
	fs.Float64Var(&c.stepsPerBeat, "steps-per-beat", 0, "step grid resolution (0 = config)")
	fs.Float64Var(&c.volume, "volume", -1, "master volume scalar (negative = config)")
	fs.BoolVar(&c.loop, "loop", false, "loop playback")
}

// load applies the log level and returns the config with flag overrides.
func (c *common) load() (*config.Config, error) {
	level, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "-log-level")
	}
	logrus.SetLevel(level)

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.sampleRate > 0 {
		cfg.SampleRate = c.sampleRate
	}
	if c.tempo > 0 {
		cfg.Tempo = c.tempo
	}
	if c.stepsPerBeat > 0 {
		cfg.StepsPerBeat = c.stepsPerBeat
	}
	if c.volume >= 0 {
		cfg.MasterGain = c.volume
	}
	cfg.Loop = cfg.Loop || c.loop
	return cfg, cfg.Validate()
}

// loadTimeline reads path, or returns the demo pattern when path is empty.
// A -tempo flag wins over the tempo stored in the file.
func (c *common) loadTimeline(path string, cfg *config.Config) (timeline.Timeline, error) {
	if path == "" {
		return demoTimeline(), nil
	}
	tl, err := timeline.Load(path, timeline.SMFOptions{
		StepsPerBeat: cfg.StepsPerBeat,
		Channels:     cfg.SMFChannels(),
	})
	if err != nil {
		return timeline.Timeline{}, err
	}
	if c.tempo > 0 {
		tl.BPM = 0
	}
	return tl, nil
}

func demoTimeline() timeline.Timeline {
	row := func(pitch string, pattern string) timeline.Row {
		return timeline.Row{
			Pitch:    note.PitchName(pitch),
			Velocity: note.VelocityInt(96),
			Steps:    timeline.ParsePattern(pattern),
		}
	}
	g := timeline.Grid{
		Rows: []timeline.Row{
			row("C3", "x... .... x... ...."),
			row("E4", "..x. x... ..x. x..."),
			row("G4", ".... ..x. .... ..x."),
			row("B4", ".x.. .... .x.. x..."),
		},
		Length: 2,
	}
	tl := g.Timeline()
	tl.Name = "demo"
	return tl
}

func newSessionOptions(cfg *config.Config) []notesched.PlayerOption {
	return append(notesched.OptionsFromConfig(cfg), notesched.WithLogger(logrus.StandardLogger()))
}

func runPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	var c common
	c.register(fs)
	loops := fs.Int("loops", 3, "when -loop, stop after N loops (0 = loop forever)")
	buffer := fs.Duration("buffer", 50*time.Millisecond, "audio output buffer")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	tl, err := c.loadTimeline(fs.Arg(0), cfg)
	if err != nil {
		return err
	}
	pl, err := notesched.NewPlayer(cfg.SampleRate, append(newSessionOptions(cfg), notesched.WithBufferSize(*buffer))...)
	if err != nil {
		return err
	}
	defer pl.Close()
	if err := pl.Configure(cfg, openPort); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := pl.Watch()
	if err := pl.Play(tl); err != nil {
		return err
	}
	log := logrus.WithField("timeline", tl.Name)
	log.WithField("events", len(tl.Events)).Info("playing")

	finished := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(finished)
		pl.Wait()
		return nil
	})
	g.Go(func() error {
		count := 0
		for {
			select {
			case <-gctx.Done():
				log.Info("interrupted")
				pl.Stop()
				return nil
			case <-finished:
				return nil
			case ev := <-events:
				switch ev.Kind {
				case notesched.EventLoopCompleted:
					count++
					log.WithField("loop", count).Info("loop completed")
					if *loops > 0 && count >= *loops {
						pl.Stop()
					}
				case notesched.EventPlaybackEnded:
					log.Info("playback completed")
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	drainOutput(pl, *buffer)
	return nil
}

// drainOutput waits until the output device has played what was rendered.
func drainOutput(pl *notesched.Player, buffer time.Duration) {
	deadline := time.Now().Add(2*buffer + 100*time.Millisecond)
	end := pl.CurrentSeconds()
	for time.Now().Before(deadline) && pl.PlaybackPosition().Seconds() < end {
		time.Sleep(10 * time.Millisecond)
	}
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var c common
	c.register(fs)
	out := fs.String("o", "out.wav", "output WAV file")
	seconds := fs.Float64("seconds", 0, "render length; 0 renders until the last note has faded (max 10 minutes)")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	tl, err := c.loadTimeline(fs.Arg(0), cfg)
	if err != nil {
		return err
	}
	s, err := notesched.NewSession(cfg.SampleRate, newSessionOptions(cfg)...)
	if err != nil {
		return err
	}
	if err := s.Configure(cfg, openPort); err != nil {
		return err
	}
	var samples []float32
	switch {
	case *seconds > 0:
		samples = notesched.RenderSamples(s, tl.Events, tl.BPM, *seconds)
	case cfg.Loop:
		return errors.New("-loop needs -seconds")
	default:
		samples = notesched.RenderUntilDrained(s, tl.Events, tl.BPM, 600)
	}
	if err := notesched.WriteWAVFile(*out, samples, cfg.SampleRate); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"file":    *out,
		"seconds": float64(len(samples)/2) / float64(cfg.SampleRate),
	}).Info("rendered")
	return nil
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("convert needs an input and an output file")
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	opts := timeline.SMFOptions{StepsPerBeat: cfg.StepsPerBeat, Channels: cfg.SMFChannels()}
	tl, err := timeline.Load(fs.Arg(0), opts)
	if err != nil {
		return err
	}
	if c.tempo > 0 || tl.BPM == 0 {
		tl.BPM = cfg.Tempo
	}

	path := fs.Arg(1)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = timeline.WriteJSON(f, tl)
	case ".mid", ".midi", ".smf":
		err = timeline.WriteSMF(f, tl, opts)
	default:
		err = errors.Wrapf(timeline.ErrUnsupportedFormat, "%s", path)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"from": fs.Arg(0), "to": path, "events": len(tl.Events)}).Info("converted")
	return nil
}

func runPorts() error {
	ports := midi.GetOutPorts()
	if len(ports) == 0 {
		fmt.Println("no MIDI outputs (build with -tags rtmidi for system ports)")
		return nil
	}
	for _, port := range ports {
		fmt.Println(port.String())
	}
	return nil
}
