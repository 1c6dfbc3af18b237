// Package speech holds the outbound text-to-speech cascade and the inbound
// transcription pipeline. Both sides degrade rather than fail: when every
// provider is exhausted the caller gets a fallback outcome so the client can
// switch to its local speech engine.
package speech

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

// Audio is synthesized speech ready to stream to the client.
type Audio struct {
	Bytes       []byte
	ContentType string
}

// Synthesizer converts text to speech through one provider.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (*Audio, error)
	Available() bool
}

// Outcome is the result of a synthesis attempt chain. Fallback set means no
// provider produced audio and the client should use its own speech engine.
type Outcome struct {
	Audio    *Audio
	Provider string
	Fallback bool
	Message  string
}

// Pipeline tries an ordered list of synthesizers and returns the first
// success.
type Pipeline struct {
	attempts []Synthesizer
	log      zerolog.Logger
}

func NewPipeline(attempts ...Synthesizer) *Pipeline {
	return &Pipeline{
		attempts: attempts,
		log:      logging.WithComponent("speech"),
	}
}

// Synthesize runs the attempt chain. It never returns an error: exhaustion
// and blank input both produce a fallback outcome.
func (p *Pipeline) Synthesize(ctx context.Context, text string) *Outcome {
	if strings.TrimSpace(text) == "" {
		return &Outcome{Fallback: true, Message: "no text to speak"}
	}

	for _, s := range p.attempts {
		if !s.Available() {
			p.log.Debug().Str("provider", s.Name()).Msg("synthesizer not configured, skipping")
			continue
		}
		audio, err := s.Synthesize(ctx, text)
		if err != nil || audio == nil || len(audio.Bytes) == 0 {
			p.log.Warn().Err(err).Str("provider", s.Name()).Msg("synthesis failed, trying next")
			continue
		}
		return &Outcome{Audio: audio, Provider: s.Name()}
	}

	return &Outcome{Fallback: true, Message: "all speech providers unavailable, use browser speech synthesis"}
}
