// ABOUTME: Local audio playback sink using oto
// ABOUTME: A persistent player reads LE f32 frames from a pipe
package client

import (
	"fmt"
	"io"
	"log"

	"github.com/ebitengine/oto/v3"

	"github.com/Parlor-Chat/jamstream-go/internal/audio"
)

// OtoSink plays canonical frames on the default audio device.
type OtoSink struct {
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
}

// NewOtoSink opens the audio device at the canonical stream format.
func NewOtoSink() (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   audio.TargetRate,
		ChannelCount: audio.TargetChannels,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	s := &OtoSink{otoCtx: ctx}
	s.pipeReader, s.pipeWriter = io.Pipe()
	s.player = ctx.NewPlayer(s.pipeReader)
	s.player.Play()

	log.Printf("Audio output initialized: %dHz, %d channels, float32",
		audio.TargetRate, audio.TargetChannels)
	return s, nil
}

// Write queues one frame for playback. The wire format is already what the
// device consumes, so bytes pass straight through. Blocks when the player's
// buffer is full, which paces the WebSocket reads.
func (s *OtoSink) Write(frame []byte) error {
	if _, err := s.pipeWriter.Write(frame); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close releases playback resources.
func (s *OtoSink) Close() error {
	if s.pipeWriter != nil {
		s.pipeWriter.Close()
		s.pipeWriter = nil
	}
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
	if s.pipeReader != nil {
		s.pipeReader.Close()
		s.pipeReader = nil
	}
	if s.otoCtx != nil {
		s.otoCtx.Suspend()
	}
	return nil
}
