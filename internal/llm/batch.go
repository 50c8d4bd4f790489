package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// GenerateBatch runs one generation per prompt with at most limit calls in
// flight.  outputs[i] always belongs to prompts[i].  The first failure
// cancels the remaining calls and is returned.
func GenerateBatch(ctx context.Context, client Client, prompts []string, limit int) ([]string, error) {
	outputs := make([]string, len(prompts))
	if len(prompts) == 0 {
		return outputs, nil
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			out, err := client.Generate(gctx, prompt)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
