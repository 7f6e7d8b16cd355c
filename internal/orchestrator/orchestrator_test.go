package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkuosman/partsmirror/internal/extract"
	"github.com/tkuosman/partsmirror/internal/progress"
	"github.com/tkuosman/partsmirror/internal/scrape"
	"github.com/tkuosman/partsmirror/internal/storage/memory"
)

const (
	categoryURL = "https://example.fi/osat/index.html"
	apriliaURL  = "https://example.fi/osat/aprilia-rs-125.html"
	hondaURL    = "https://example.fi/osat/honda-cbr.html"
)

const categoryPage = `<body>
	<a href="aprilia-rs-125.html">Aprilia RS 125</a>
	<a href="honda-cbr.html">Honda CBR</a>
</body>`

const apriliaPage = `<html><head><title>Aprilia RS 125</title></head><body><table>
	<tr><td>OSA:</td><td>Tank</td></tr>
	<tr><td>OSANRO:</td><td>12345</td></tr>
	<tr><td>HINTA:</td><td>45 EUR</td></tr>
</table></body></html>`

const apriliaPageTwoParts = `<html><head><title>Aprilia RS 125</title></head><body><table>
	<tr><td>OSA:</td><td>Tank</td></tr>
	<tr><td>OSANRO:</td><td>12345</td></tr>
	<tr><td>HINTA:</td><td>45 EUR</td></tr>
	<tr><td>OSA:</td><td>Seat</td></tr>
	<tr><td>HINTA:</td><td>20 EUR</td></tr>
</table></body></html>`

const hondaPage = `<html><head><title>Honda CBR</title></head><body><table>
	<tr><td>OSA:</td><td>Fairing</td></tr>
	<tr><td>HINTA:</td><td>90 EUR</td></tr>
</table></body></html>`

type pageFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	visited []string
	errs    map[string]error
	cancel  context.CancelFunc
}

func (f *pageFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, scrape.NewAbortedError(url, err)
	}
	f.mu.Lock()
	f.visited = append(f.visited, url)
	f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, scrape.NewNetworkError(url, 404, errors.New("not found"))
	}
	return []byte(page), nil
}

func (f *pageFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return f.FetchPage(ctx, url)
}

func (f *pageFetcher) ProbeSize(context.Context, string) (int64, error) {
	return -1, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (e *captureEmitter) partOutcomes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, evt := range e.events {
		if evt.Stage == progress.StagePart {
			out = append(out, evt.Outcome)
		}
	}
	return out
}

type tickingClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(time.Second)
	return c.at
}

func newTestOrchestrator(f *pageFetcher, store scrape.Store, emitter progress.Emitter) *Orchestrator {
	cfg := Config{Categories: []Category{{Name: "Motorcycles", URL: categoryURL}}}
	return New(cfg, f, extract.New(extract.Markers{}, nil), store, nil,
		&tickingClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, emitter, nil)
}

func TestRunVisitsFilteredModelPages(t *testing.T) {
	t.Parallel()

	f := &pageFetcher{pages: map[string]string{
		categoryURL: categoryPage,
		apriliaURL:  apriliaPage,
		hondaURL:    hondaPage,
	}}
	store := memory.New()
	emitter := &captureEmitter{}
	o := newTestOrchestrator(f, store, emitter)

	err := o.Run(context.Background(), RunOptions{Filter: "aprilia 125"})
	require.NoError(t, err)
	require.Equal(t, []string{categoryURL, apriliaURL}, f.visited, "honda filtered out")

	v, err := store.VehicleByURL(context.Background(), apriliaURL)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "Aprilia", v.Brand)
	require.Equal(t, "RS 125", v.Model)
	require.Equal(t, "Motorcycles", v.Category)

	p, err := store.PartByNumber(context.Background(), v.ID, "12345")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "Tank", p.Name)

	stages := emitter.stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	require.Contains(t, stages, progress.StagePart)
}

func TestRunHonorsMaxPagesPerCategory(t *testing.T) {
	t.Parallel()

	f := &pageFetcher{pages: map[string]string{
		categoryURL: categoryPage,
		apriliaURL:  apriliaPage,
		hondaURL:    hondaPage,
	}}
	o := newTestOrchestrator(f, memory.New(), &captureEmitter{})

	err := o.Run(context.Background(), RunOptions{MaxPagesPerCategory: 1})
	require.NoError(t, err)
	require.Equal(t, []string{categoryURL, apriliaURL}, f.visited)
}

func TestRunStopsCleanlyOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := &pageFetcher{
		pages: map[string]string{
			categoryURL: categoryPage,
			apriliaURL:  apriliaPage,
			hondaURL:    hondaPage,
		},
		cancel: cancel,
	}
	emitter := &captureEmitter{}
	o := newTestOrchestrator(f, memory.New(), emitter)

	// The fetcher cancels after the first request: the category page is
	// served, then the first model-page fetch observes the signal.
	err := o.Run(ctx, RunOptions{})
	require.NoError(t, err, "cancellation is not a failure")

	stages := emitter.stages()
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestRunContinuesPastFailedModelPage(t *testing.T) {
	t.Parallel()

	f := &pageFetcher{
		pages: map[string]string{
			categoryURL: categoryPage,
			hondaURL:    hondaPage,
		},
		errs: map[string]error{
			apriliaURL: scrape.NewNetworkError(apriliaURL, 500, errors.New("boom")),
		},
	}
	store := memory.New()
	emitter := &captureEmitter{}
	o := newTestOrchestrator(f, store, emitter)

	err := o.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Contains(t, f.visited, hondaURL, "run moves on after a page failure")
	require.Contains(t, emitter.stages(), progress.StagePageError)

	v, err := store.VehicleByURL(context.Background(), hondaURL)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestSecondPassTombstonesVanishedParts(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	f := &pageFetcher{pages: map[string]string{
		categoryURL: categoryPage,
		apriliaURL:  apriliaPageTwoParts,
		hondaURL:    hondaPage,
	}}
	o := newTestOrchestrator(f, store, &captureEmitter{})
	require.NoError(t, o.Run(ctx, RunOptions{Filter: "aprilia"}))

	// Pass 2: the seat vanished from the page.
	f2 := &pageFetcher{pages: map[string]string{
		categoryURL: categoryPage,
		apriliaURL:  apriliaPage,
		hondaURL:    hondaPage,
	}}
	emitter := &captureEmitter{}
	o2 := newTestOrchestrator(f2, store, emitter)
	require.NoError(t, o2.Run(ctx, RunOptions{Filter: "aprilia"}))

	require.Contains(t, emitter.partOutcomes(), "deleted")

	v, err := store.VehicleByURL(ctx, apriliaURL)
	require.NoError(t, err)
	seat, err := store.PartByName(ctx, v.ID, "Seat")
	require.NoError(t, err)
	require.NotNil(t, seat)
	require.True(t, seat.IsDeleted)

	tank, err := store.PartByNumber(ctx, v.ID, "12345")
	require.NoError(t, err)
	require.False(t, tank.IsDeleted)
}

// flakyStore fails part-number lookups a fixed number of times before
// delegating to the wrapped store.
type flakyStore struct {
	*memory.Store
	failures int
}

func (s *flakyStore) PartByNumber(ctx context.Context, vehicleID, partNumber string) (*scrape.Part, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}
	return s.Store.PartByNumber(ctx, vehicleID, partNumber)
}

func TestTransientLookupFailureDoesNotTombstone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	pages := map[string]string{
		categoryURL: categoryPage,
		apriliaURL:  apriliaPage,
	}
	mem := memory.New()
	o := newTestOrchestrator(&pageFetcher{pages: pages}, mem, &captureEmitter{})
	require.NoError(t, o.Run(ctx, RunOptions{Filter: "aprilia"}))

	// Pass 2: the part is still on the page but its lookup fails once.
	emitter := &captureEmitter{}
	flaky := &flakyStore{Store: mem, failures: 1}
	o2 := newTestOrchestrator(&pageFetcher{pages: pages}, flaky, emitter)
	require.NoError(t, o2.Run(ctx, RunOptions{Filter: "aprilia"}))

	outcomes := emitter.partOutcomes()
	require.Contains(t, outcomes, "error", "the failed lookup is visible in the progress stream")
	require.NotContains(t, outcomes, "deleted")

	v, err := mem.VehicleByURL(ctx, apriliaURL)
	require.NoError(t, err)
	tank, err := mem.PartByNumber(ctx, v.ID, "12345")
	require.NoError(t, err)
	require.NotNil(t, tank)
	require.False(t, tank.IsDeleted, "a part present on the page stays live")
	require.Empty(t, mem.History(), "no transition happened, so no history row")

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate(), "every emitted event survives hub validation")
	}
}

func TestScrapePageDerivesVehicleFromTitle(t *testing.T) {
	t.Parallel()

	f := &pageFetcher{pages: map[string]string{apriliaURL: apriliaPage}}
	store := memory.New()
	o := newTestOrchestrator(f, store, &captureEmitter{})

	require.NoError(t, o.ScrapePage(context.Background(), apriliaURL, false))

	v, err := store.VehicleByURL(context.Background(), apriliaURL)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "Aprilia", v.Brand)
	require.Equal(t, "RS 125", v.Model)
}
