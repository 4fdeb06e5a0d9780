package speech

import (
	"context"
	"strings"

	"github.com/bobarin/storyreel/internal/batch"
)

// Line is one scene's narration.
type Line struct {
	SceneID string
	Text    string
	Voice   string
}

// NarrateAll synthesizes every line. Narration failures never stop other
// scenes, so the batch always runs with CollectAll. Blank lines succeed
// with a nil Audio and are never sent to the provider.
func NarrateAll(ctx context.Context, syn Synthesizer, lines []Line, opts batch.Options) ([]batch.Outcome[*Audio], error) {
	opts.Policy = batch.CollectAll
	return batch.Run(ctx, lines, func(ctx context.Context, _ int, l Line) (*Audio, error) {
		if strings.TrimSpace(l.Text) == "" {
			return nil, nil
		}
		return syn.Synthesize(ctx, l.Text, l.Voice)
	}, opts)
}
