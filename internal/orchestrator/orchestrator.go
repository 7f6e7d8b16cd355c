// Package orchestrator walks category pages, model pages, and parts in
// a strictly sequential, politeness-limited crawl, composing the
// fetcher, extractor, tracker, and asset synchronizer.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PuerkitoBio/goquery"

	"github.com/tkuosman/partsmirror/internal/extract"
	"github.com/tkuosman/partsmirror/internal/progress"
	"github.com/tkuosman/partsmirror/internal/scrape"
	"github.com/tkuosman/partsmirror/internal/tracker"
)

// Category is one listing-site category index page.
type Category struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Config holds the crawl settings.
type Config struct {
	Categories []Category
	// Delay is the fixed pause inserted between model-page visits.
	Delay time.Duration
}

// RunOptions are the per-run knobs exposed to the caller.
type RunOptions struct {
	// Filter is an optional brand/model allow-list expression.
	Filter string
	// MaxPagesPerCategory bounds a run for testing; 0 means unlimited.
	MaxPagesPerCategory int
	// DownloadImages toggles asset synchronization.
	DownloadImages bool
}

// Orchestrator runs crawl passes. A single logical worker processes
// categories, model pages, and parts strictly sequentially.
type Orchestrator struct {
	cfg       Config
	fetcher   scrape.Fetcher
	extractor *extract.Extractor
	store     scrape.Store
	assets    tracker.AssetSyncer
	clock     scrape.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New builds an Orchestrator.
func New(
	cfg Config,
	fetcher scrape.Fetcher,
	extractor *extract.Extractor,
	store scrape.Store,
	assets tracker.AssetSyncer,
	clock scrape.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		assets:    assets,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// runContext carries the mutable state of one crawl run. It is owned by
// the Orchestrator and passed explicitly instead of living in process
// globals.
type runContext struct {
	id      uuid.UUID
	opts    RunOptions
	filter  scrape.Filter
	tracker *tracker.Tracker
}

func (o *Orchestrator) newRunContext(opts RunOptions) *runContext {
	assets := o.assets
	if !opts.DownloadImages {
		assets = nil
	}
	return &runContext{
		id:      uuid.New(),
		opts:    opts,
		filter:  scrape.ParseFilter(opts.Filter),
		tracker: tracker.New(o.store, assets, o.logger),
	}
}

// Run executes one full crawl pass. It returns nil both on completion
// and on cooperative cancellation; cancellation is not a failure.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	rc := o.newRunContext(opts)
	o.emit(rc, progress.Event{Stage: progress.StageRunStart})

	for _, category := range o.cfg.Categories {
		if err := o.crawlCategory(ctx, rc, category); err != nil {
			if errors.Is(err, scrape.ErrAborted) {
				o.emit(rc, progress.Event{Stage: progress.StageRunDone, Note: "aborted"})
				return nil
			}
			o.emit(rc, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
			return err
		}
	}

	o.emit(rc, progress.Event{Stage: progress.StageRunDone})
	return nil
}

// ScrapePage re-harvests a single known model page URL.
func (o *Orchestrator) ScrapePage(ctx context.Context, url string, downloadImages bool) error {
	rc := o.newRunContext(RunOptions{DownloadImages: downloadImages})
	o.emit(rc, progress.Event{Stage: progress.StageRunStart, URL: url})

	err := o.scrapeModelPage(ctx, rc, "", "", url)
	if err != nil && errors.Is(err, scrape.ErrAborted) {
		o.emit(rc, progress.Event{Stage: progress.StageRunDone, Note: "aborted"})
		return nil
	}
	if err != nil {
		o.emit(rc, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return err
	}
	o.emit(rc, progress.Event{Stage: progress.StageRunDone})
	return nil
}

func (o *Orchestrator) crawlCategory(ctx context.Context, rc *runContext, category Category) error {
	body, err := o.fetcher.FetchPage(ctx, category.URL)
	if err != nil {
		if errors.Is(err, scrape.ErrAborted) {
			return err
		}
		// A failed category page costs one category, not the run.
		o.logger.Warn("category page fetch failed",
			zap.String("category", category.Name), zap.String("url", category.URL), zap.Error(err))
		return nil
	}
	doc, err := extract.ParseDocument(body)
	if err != nil {
		o.logger.Warn("category page parse failed",
			zap.String("category", category.Name), zap.Error(err))
		return nil
	}

	visited := 0
	for _, link := range o.extractor.ModelLinks(doc, category.URL) {
		if !rc.filter.Matches(link.Title) {
			continue
		}
		if rc.opts.MaxPagesPerCategory > 0 && visited >= rc.opts.MaxPagesPerCategory {
			break
		}
		if visited > 0 {
			if err := o.pause(ctx); err != nil {
				return err
			}
		}
		visited++
		if err := o.scrapeModelPage(ctx, rc, category.Name, link.Title, link.URL); err != nil {
			return err
		}
	}
	return nil
}

// scrapeModelPage processes one model page: extract, track, synchronize,
// reconcile. Only cancellation propagates; everything else degrades to a
// logged page error.
func (o *Orchestrator) scrapeModelPage(ctx context.Context, rc *runContext, categoryName, title, url string) error {
	now := o.clock.Now()
	o.emit(rc, progress.Event{Stage: progress.StagePageStart, URL: url})

	body, err := o.fetcher.FetchPage(ctx, url)
	if err != nil {
		if errors.Is(err, scrape.ErrAborted) {
			return err
		}
		o.logger.Warn("model page fetch failed", zap.String("url", url), zap.Error(err))
		o.emit(rc, progress.Event{Stage: progress.StagePageError, URL: url, Note: err.Error()})
		return nil
	}
	doc, err := extract.ParseDocument(body)
	if err != nil {
		o.logger.Warn("model page parse failed", zap.String("url", url), zap.Error(err))
		o.emit(rc, progress.Event{Stage: progress.StagePageError, URL: url, Note: err.Error()})
		return nil
	}

	if title == "" {
		title = pageTitle(doc)
	}
	brand, model := splitTitle(title)
	vehicle, err := rc.tracker.EnsureVehicle(ctx, brand, model, categoryName, url, now)
	if err != nil {
		o.logger.Error("vehicle upsert failed", zap.String("url", url), zap.Error(err))
		o.emit(rc, progress.Event{Stage: progress.StagePageError, URL: url, Note: err.Error()})
		return nil
	}

	seen := make(map[string]struct{})
	for _, rec := range o.extractor.Parts(doc, url) {
		result, err := rc.tracker.TrackPart(ctx, vehicle, rec, url, now)
		o.emitPart(rc, vehicle.ID, result)
		if err != nil {
			return err
		}
		if result.PartID != "" {
			seen[result.PartID] = struct{}{}
		}
	}

	deleted, err := rc.tracker.ReconcileMissing(ctx, vehicle.ID, seen, now)
	if err != nil {
		o.logger.Error("tombstone reconciliation failed",
			zap.String("vehicle_id", vehicle.ID), zap.Error(err))
	}
	for _, result := range deleted {
		o.emitPart(rc, vehicle.ID, result)
	}

	o.emit(rc, progress.Event{Stage: progress.StagePageDone, URL: url, Vehicle: vehicle.ID})
	return nil
}

func (o *Orchestrator) emitPart(rc *runContext, vehicleID string, result tracker.Result) {
	o.emit(rc, progress.Event{
		Stage:   progress.StagePart,
		Vehicle: vehicleID,
		PartID:  result.PartID,
		Part:    result.Name,
		Outcome: string(result.Outcome),
	})
	for _, asset := range result.Assets {
		evt := progress.Event{
			Stage:   progress.StageImage,
			Vehicle: vehicleID,
			PartID:  result.PartID,
			URL:     asset.URL,
			Outcome: string(asset.Status),
			Bytes:   asset.Bytes,
		}
		if asset.Err != nil {
			evt.Note = asset.Err.Error()
		}
		o.emit(rc, evt)
	}
}

func (o *Orchestrator) emit(rc *runContext, evt progress.Event) {
	if o.emitter == nil {
		return
	}
	evt.RunID = rc.id
	evt.TS = o.clock.Now()
	o.emitter.Emit(evt)
}

// pause waits the configured inter-page delay, honoring cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return scrape.NewAbortedError("", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func splitTitle(title string) (string, string) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
