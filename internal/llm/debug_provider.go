package llm

import (
	"context"
	"strings"
	"time"
)

// DebugReviewChunks is the canned review streamed by the debug provider and
// the server's mock stream endpoint.
var DebugReviewChunks = []string{
	"Analyzing your code...\n",
	"Line 1 looks good.\n",
	"Line 2 could use some error handling.\n",
	"Consider renaming function `foo` to something more descriptive.\n",
	"Review complete ✅",
}

// debugPreset defines streaming rate configuration.
type debugPreset struct {
	Delay time.Duration
}

var presets = map[string]debugPreset{
	"":       {Delay: 500 * time.Millisecond},
	"normal": {Delay: 500 * time.Millisecond},
	"fast":   {Delay: 5 * time.Millisecond},
	"slow":   {Delay: 2 * time.Second},
}

// DebugProvider streams a fixed review without contacting any backend.
type DebugProvider struct {
	variant string
	delay   time.Duration
}

// NewDebugProvider creates a debug provider; unknown variants use the
// normal pace.
func NewDebugProvider(variant string) *DebugProvider {
	variant = strings.TrimSpace(variant)
	preset, ok := presets[variant]
	if !ok {
		preset = presets["normal"]
	}
	return &DebugProvider{variant: variant, delay: preset.Delay}
}

// WithDelay overrides the delay between chunks.
func (d *DebugProvider) WithDelay(delay time.Duration) *DebugProvider {
	d.delay = delay
	return d
}

func (d *DebugProvider) Name() string {
	if d.variant == "" || d.variant == "normal" {
		return "debug"
	}
	return "debug:" + d.variant
}

func (d *DebugProvider) Capabilities() Capabilities {
	return Capabilities{FragmentMode: FragmentDelta}
}

func (d *DebugProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		for i, chunk := range DebugReviewChunks {
			if i > 0 && d.delay > 0 {
				if err := sleepCtx(ctx, d.delay); err != nil {
					return err
				}
			}
			if err := send(ctx, ch, Event{Type: EventTextDelta, Text: chunk}); err != nil {
				return err
			}
		}
		return send(ctx, ch, Event{Type: EventDone})
	}), nil
}
