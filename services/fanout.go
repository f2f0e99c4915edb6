package services

import (
	"context"
	"fmt"
	"time"

	"tryonapi/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	MinFanoutImages = 1
	MaxFanoutImages = 4
)

// ClampImageCount keeps a requested image count inside [1, 4].
func ClampImageCount(n int) int {
	return max(MinFanoutImages, min(n, MaxFanoutImages))
}

type callIndexKey struct{}

// CallIndex returns the result slot the generator call running under ctx fills.
func CallIndex(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(callIndexKey{}).(int)
	return i, ok
}

// FanoutCoordinator turns one try-on request into N parallel generator calls.
// Either every call succeeds or the request fails; partial results are never
// returned.
type FanoutCoordinator struct {
	Generator Generator
	MaxImages int
}

func NewFanoutCoordinator(generator Generator, maxImages int) *FanoutCoordinator {
	if maxImages <= 0 || maxImages > MaxFanoutImages {
		maxImages = MaxFanoutImages
	}
	return &FanoutCoordinator{Generator: generator, MaxImages: maxImages}
}

func (f *FanoutCoordinator) clamp(n int) int {
	limit := f.MaxImages
	if limit <= 0 {
		limit = MaxFanoutImages
	}
	return max(MinFanoutImages, min(n, limit))
}

// Generate runs the calls concurrently and returns images in call order.
func (f *FanoutCoordinator) Generate(ctx context.Context, req models.TryOnRequest) ([][]byte, error) {
	count := f.clamp(req.ImageCount)
	started := time.Now()

	results := make([][]byte, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			image, err := f.Generator.Generate(context.WithValue(gctx, callIndexKey{}, i), req.Subject, req.Garment)
			if err != nil {
				return fmt.Errorf("generation %d of %d: %w", i+1, count, err)
			}
			if len(image) == 0 {
				return fmt.Errorf("generation %d of %d: %w", i+1, count, decodeFailure("empty image", nil))
			}
			results[i] = image
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().
			Err(err).
			Int("image_count", count).
			Str("failure_kind", string(models.KindOf(err))).
			Dur("duration", time.Since(started)).
			Msg("try-on fan-out failed")
		return nil, err
	}

	log.Info().
		Int("image_count", count).
		Bool("free_retry", req.IsFreeRetry).
		Dur("duration", time.Since(started)).
		Msg("try-on fan-out finished")
	return results, nil
}
