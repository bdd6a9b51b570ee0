// ABOUTME: Mock text generation streamed word by word
// ABOUTME: Generators honour context cancellation so stop_generation can interrupt them

package fakebackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-chorus/internal/protocol"
)

// Generator produces the reply for a generate_message command. emit is
// called once per streamed chunk; the returned string is the final content.
type Generator interface {
	Generate(ctx context.Context, cmd protocol.GenerateCommand, emit func(chunk string) error) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, cmd protocol.GenerateCommand, emit func(chunk string) error) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, cmd protocol.GenerateCommand, emit func(chunk string) error) (string, error) {
	return f(ctx, cmd, emit)
}

// MockGenerator echoes the start of the prompt back, one word per chunk.
type MockGenerator struct {
	// Delay is the pause after each chunk.
	Delay time.Duration
}

func (g MockGenerator) Generate(ctx context.Context, cmd protocol.GenerateCommand, emit func(chunk string) error) (string, error) {
	prompt := cmd.Content
	if len(prompt) > 30 {
		prompt = prompt[:30]
	}
	reply := fmt.Sprintf("This is a mock response to: %s...", prompt)

	var full strings.Builder
	for _, word := range strings.Fields(reply) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunk := word + " "
		full.WriteString(chunk)
		if err := emit(chunk); err != nil {
			return "", err
		}
		if g.Delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.Delay):
			}
		}
	}
	return strings.TrimSpace(full.String()), nil
}
