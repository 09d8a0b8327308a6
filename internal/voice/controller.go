// Package voice runs the listen, answer and speak loop for voice-mode sessions.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/session"
)

// FallbackPhrase is spoken whenever a voice cycle fails.
const FallbackPhrase = "I'm sorry, I encountered an error processing your request."

// Transcript is one recognition result. Err is set when the recognizer
// reports a failure, authorization denial included, instead of text.
type Transcript struct {
	Text string
	Err  error
}

// Recognizer streams recognized utterances until StopListening.
// Starting again replaces the previous stream.
type Recognizer interface {
	StartListening(ctx context.Context, onResult func(Transcript)) error
	StopListening()
}

// Synthesizer speaks text aloud.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// InputHandler answers the pending question. *session.Manager implements it.
type InputHandler interface {
	HandleUserInput(ctx context.Context, text string, speaker session.Speaker) (*domain.SessionRecord, error)
}

// Controller owns at most one voice session at a time.
type Controller struct {
	input  InputHandler
	rec    Recognizer
	synth  Synthesizer
	logger *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewController wires a controller to its input handler and speech adapters.
func NewController(input InputHandler, rec Recognizer, synth Synthesizer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{input: input, rec: rec, synth: synth, logger: logger}
}

// Active reports whether a voice session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// StartVoiceSession stops any running session and starts listening again.
// For every utterance onTranscription gets the recognized text, the input
// handler runs, and onResponse gets the new last response. Either callback may be nil.
// Utterances are processed one at a time in arrival order.
func (c *Controller) StartVoiceSession(ctx context.Context, onTranscription, onResponse func(string)) error {
	c.StopVoiceSession()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	queue := make(chan string, 16)
	go c.run(sctx, gen, queue, onResponse)

	err := c.rec.StartListening(sctx, func(t Transcript) {
		if !c.current(gen) {
			return
		}
		if t.Err != nil {
			c.logger.Warn("Speech recognition failed", "error", t.Err)
			if errors.Is(t.Err, domain.ErrRecognitionAuthorizationDenied) {
				c.stop(gen)
			}
			return
		}
		if t.Text == "" {
			return
		}
		if onTranscription != nil {
			onTranscription(t.Text)
		}
		select {
		case queue <- t.Text:
		case <-sctx.Done():
		default:
			c.logger.Warn("Voice queue full, utterance dropped")
		}
	})
	if err != nil {
		c.stop(gen)
		return err
	}
	c.logger.Info("Voice session started")
	return nil
}

// StopVoiceSession cancels recognition. Results that arrive later are dropped.
func (c *Controller) StopVoiceSession() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.stop(gen)
}

func (c *Controller) stop(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++
	c.mu.Unlock()

	c.rec.StopListening()
	c.logger.Info("Voice session stopped")
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.cancel != nil
}

func (c *Controller) run(ctx context.Context, gen uint64, queue <-chan string, onResponse func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-queue:
			c.cycle(ctx, gen, text, onResponse)
		}
	}
}

func (c *Controller) cycle(ctx context.Context, gen uint64, text string, onResponse func(string)) {
	speaker := &guardedSpeaker{c: c, gen: gen, synth: c.synth}
	record, err := c.input.HandleUserInput(ctx, text, speaker)
	if !c.current(gen) {
		return
	}
	if err != nil {
		c.logger.Warn("Voice cycle failed", "error", err)
		if !errors.Is(err, domain.ErrSynthesis) {
			if serr := speaker.Speak(ctx, FallbackPhrase); serr != nil {
				c.logger.Warn("Fallback speech failed", "error", serr)
			}
		}
	}
	if onResponse != nil && record != nil && c.current(gen) {
		onResponse(record.LastResponse)
	}
}

// guardedSpeaker stays silent once its session has been stopped.
type guardedSpeaker struct {
	c     *Controller
	gen   uint64
	synth Synthesizer
}

func (s *guardedSpeaker) Speak(ctx context.Context, text string) error {
	if !s.c.current(s.gen) {
		return nil
	}
	return s.synth.Speak(ctx, text)
}
