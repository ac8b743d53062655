// Package pipeline implements the analysis pipeline delegate: a linear
// 5-stage chain (scrape, classify, group, estimate, summarize) invoked
// only by trigger_property_analysis. Stages run as an explicit function
// chain; the first failing stage short-circuits the rest.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "morada/internal/errors"
	"morada/internal/logging"
	"morada/internal/orchestrator"
)

// Image is one scraped photo with an optional pre-tagged room type.
type Image struct {
	URL string
	Tag string
}

// Classification is classify's per-image output.
type Classification struct {
	ImageURL   string
	RoomType   string
	RoomIndex  int
	Confidence float64
}

// RoomEstimate is estimate's per-room output.
type RoomEstimate struct {
	RoomKey    string
	Condition  string
	Items      []string
	CostMin    float64
	CostMax    float64
	Confidence float64
}

// Result is the pipeline's terminal output, consumed by
// trigger_property_analysis to persist property/portfolio/analysis rows.
type Result struct {
	PropertyTitle string
	ImageURLs     []string
	FloorPlanURLs []string
	Rooms         []RoomEstimate
	Narrative     string
	CostMin       float64
	CostMax       float64
	Confidence    float64
}

// Scraper fetches a property listing. The pipeline depends only on this
// narrow interface and falls back to a fixture when none is configured.
type Scraper interface {
	Scrape(ctx context.Context, url string) (title string, images []Image, err error)
}

// VisionClassifier labels a single image with its room type when no tag
// was scraped.
type VisionClassifier interface {
	ClassifyImage(ctx context.Context, imageURL string) (roomType string, confidence float64, err error)
}

// RoomGrouper clusters same-room-type images by visual similarity in one
// batched call.
type RoomGrouper interface {
	Group(ctx context.Context, roomType string, images []Classification) (roomKeys []string, floorPlanURLs []string, err error)
}

// RoomEstimator produces a cost/condition estimate for one grouped room.
type RoomEstimator interface {
	EstimateRoom(ctx context.Context, roomKey string, images []Classification) (RoomEstimate, error)
}

// Summarizer produces the narrative text from the aggregated estimates.
type Summarizer interface {
	Summarize(ctx context.Context, title string, rooms []RoomEstimate) (narrative string, err error)
}

// Pipeline wires the five stages with their bounded-concurrency fan-out
// and the scrape stage's retry policy.
type Pipeline struct {
	Scraper     Scraper
	Classifier  VisionClassifier
	Grouper     RoomGrouper
	Estimator   RoomEstimator
	Summarizer  Summarizer
	RetryConfig apperrors.RetryConfig

	logger logging.Logger
}

// New builds a Pipeline from its stage adapters.
func New(scraper Scraper, classifier VisionClassifier, grouper RoomGrouper, estimator RoomEstimator, summarizer Summarizer) *Pipeline {
	return &Pipeline{
		Scraper:     scraper,
		Classifier:  classifier,
		Grouper:     grouper,
		Estimator:   estimator,
		Summarizer:  summarizer,
		RetryConfig: apperrors.DefaultRetryConfig(),
		logger:      logging.NewComponentLogger("pipeline"),
	}
}

// classifyConcurrency and estimateConcurrency bound external vision-call
// fan-out.
const (
	classifyConcurrency = 5
	estimateConcurrency = 3
)

// Run executes all five stages against propertyURL, short-circuiting on
// the first stage failure.
func (p *Pipeline) Run(ctx context.Context, propertyURL string) (*Result, error) {
	metrics := orchestrator.Default()

	type scraped struct {
		title  string
		images []Image
	}
	scrapeOut, err := timeStage(metrics, "scrape", func() (scraped, error) {
		title, images, err := p.scrape(ctx, propertyURL)
		return scraped{title, images}, err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: scrape: %w", err)
	}
	title, images := scrapeOut.title, scrapeOut.images

	classifications, err := timeStage(metrics, "classify", func() ([]Classification, error) { return p.classify(ctx, images) })
	if err != nil {
		return nil, fmt.Errorf("pipeline: classify: %w", err)
	}

	grouped, floorPlans, err := p.group(ctx, classifications)
	if err != nil {
		return nil, fmt.Errorf("pipeline: group: %w", err)
	}

	rooms, err := timeStage(metrics, "estimate", func() ([]RoomEstimate, error) { return p.estimate(ctx, grouped) })
	if err != nil {
		return nil, fmt.Errorf("pipeline: estimate: %w", err)
	}

	narrative, costMin, costMax, confidence := p.aggregate(rooms)
	if p.Summarizer != nil {
		if text, sumErr := p.Summarizer.Summarize(ctx, title, rooms); sumErr == nil {
			narrative = text
		} else {
			metrics.IncStageFailure("summarize", "summarizer_error")
			p.logger.Warn("summarize failed, falling back to templated narrative: %v", sumErr)
		}
	}

	imageURLs := make([]string, 0, len(images))
	for _, img := range images {
		imageURLs = append(imageURLs, img.URL)
	}

	return &Result{
		PropertyTitle: title,
		ImageURLs:     imageURLs,
		FloorPlanURLs: floorPlans,
		Rooms:         rooms,
		Narrative:     narrative,
		CostMin:       costMin,
		CostMax:       costMax,
		Confidence:    confidence,
	}, nil
}

// scrape retries transient failures with exponential backoff (3
// attempts, base 2s) and falls back to a fixture when no real scraper is
// configured.
func (p *Pipeline) scrape(ctx context.Context, propertyURL string) (string, []Image, error) {
	if p.Scraper == nil {
		return fixtureScrape(propertyURL)
	}
	cfg := apperrors.RetryConfig{MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	type scraped struct {
		title  string
		images []Image
	}
	result, err := apperrors.RetryWithResultAndLog(ctx, cfg, func(ctx context.Context) (scraped, error) {
		title, images, err := p.Scraper.Scrape(ctx, propertyURL)
		return scraped{title, images}, err
	}, p.logger)
	if err != nil {
		return "", nil, err
	}
	return result.title, result.images, nil
}

// timeStage records stage duration and failure metrics around fn, which
// runs exactly one pipeline stage.
func timeStage[T any](m *orchestrator.Metrics, stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	status := "ok"
	if err != nil {
		status = "error"
		m.IncStageFailure(stage, "stage_error")
	}
	m.ObserveStageDuration(stage, status, time.Since(start))
	return result, err
}

func fixtureScrape(propertyURL string) (string, []Image, error) {
	return "Sample listing", []Image{
		{URL: propertyURL + "#1", Tag: "living_room"},
		{URL: propertyURL + "#2", Tag: "kitchen"},
	}, nil
}

// classify runs the two-phase tag-map-first strategy: pre-tagged images
// are free, the rest fan out to the vision classifier bounded by a
// semaphore of 5.
func (p *Pipeline) classify(ctx context.Context, images []Image) ([]Classification, error) {
	out := make([]Classification, len(images))
	roomCounts := map[string]int{}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, classifyConcurrency)

	for i, img := range images {
		i, img := i, img
		if img.Tag != "" {
			roomCounts[img.Tag]++
			out[i] = Classification{ImageURL: img.URL, RoomType: img.Tag, RoomIndex: roomCounts[img.Tag], Confidence: 1.0}
			continue
		}
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if p.Classifier == nil {
				out[i] = Classification{ImageURL: img.URL, RoomType: "unknown", RoomIndex: 1, Confidence: 0.3}
				return nil
			}
			roomType, confidence, err := p.Classifier.ClassifyImage(gctx, img.URL)
			if err != nil {
				return err
			}
			out[i] = Classification{ImageURL: img.URL, RoomType: roomType, Confidence: confidence}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Re-index multi-instance room types after fan-out completes, since
	// completion order is non-deterministic.
	return reindexRooms(out), nil
}

func reindexRooms(classifications []Classification) []Classification {
	counts := map[string]int{}
	for i, c := range classifications {
		if c.RoomIndex > 0 {
			continue
		}
		counts[c.RoomType]++
		classifications[i].RoomIndex = counts[c.RoomType]
	}
	return classifications
}

// group clusters classifications by room_key. Multi-instance types
// (bedroom, bathroom) are expected to already carry distinct RoomIndex
// values from classify; singletons keep index 1. Under-grouping is
// preferred over over-grouping.
func (p *Pipeline) group(ctx context.Context, classifications []Classification) (map[string][]Classification, []string, error) {
	grouped := make(map[string][]Classification)
	var floorPlans []string
	for _, c := range classifications {
		if c.RoomType == "floor_plan" {
			floorPlans = append(floorPlans, c.ImageURL)
			continue
		}
		key := fmt.Sprintf("%s_%d", c.RoomType, c.RoomIndex)
		grouped[key] = append(grouped[key], c)
	}
	if p.Grouper != nil {
		for roomType, group := range grouped {
			if _, _, err := p.Grouper.Group(ctx, roomType, group); err != nil {
				return nil, nil, err
			}
		}
	}
	return grouped, floorPlans, nil
}

// estimate runs one vision call per grouped room, bounded by a semaphore
// of 3; a failed room falls back to a conservative fixed table with
// confidence 0.3 rather than failing the whole stage.
func (p *Pipeline) estimate(ctx context.Context, grouped map[string][]Classification) ([]RoomEstimate, error) {
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	out := make([]RoomEstimate, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, estimateConcurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			if p.Estimator == nil {
				out[i] = fallbackEstimate(key)
				return nil
			}
			est, err := p.Estimator.EstimateRoom(gctx, key, grouped[key])
			if err != nil {
				p.logger.Warn("room %s estimate failed, using fallback table: %v", key, err)
				out[i] = fallbackEstimate(key)
				return nil
			}
			out[i] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fallbackEstimate(roomKey string) RoomEstimate {
	return RoomEstimate{RoomKey: roomKey, Condition: "unknown", CostMin: 500, CostMax: 1500, Confidence: 0.3}
}

// aggregate computes the overall cost range and a cost-weighted mean
// confidence, so expensive rooms dominate the overall number. With zero
// rooms, both the cost range and confidence are zero.
func (p *Pipeline) aggregate(rooms []RoomEstimate) (narrative string, costMin, costMax, confidence float64) {
	if len(rooms) == 0 {
		return "No rooms were analyzed.", 0, 0, 0
	}
	var weightedConfidence, totalWeight float64
	for _, r := range rooms {
		costMin += r.CostMin
		costMax += r.CostMax
		weightedConfidence += r.Confidence * r.CostMax
		totalWeight += r.CostMax
	}
	if totalWeight > 0 {
		confidence = weightedConfidence / totalWeight
	} else {
		var sum float64
		for _, r := range rooms {
			sum += r.Confidence
		}
		confidence = sum / float64(len(rooms))
	}
	narrative = fmt.Sprintf("Estimated renovation cost between %.0f and %.0f across %d rooms.", costMin, costMax, len(rooms))
	return narrative, costMin, costMax, confidence
}
