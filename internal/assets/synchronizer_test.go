package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tkuosman/partsmirror/internal/scrape"
	"github.com/tkuosman/partsmirror/internal/storage/memory"
)

type fakeFetcher struct {
	bodies     map[string][]byte
	probeSizes map[string]int64
	probeErr   error
	fetchErr   error
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) ([]byte, error) {
	return f.FetchBytes(nil, url)
}

func (f *fakeFetcher) FetchBytes(_ context.Context, url string) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.bodies[url], nil
}

func (f *fakeFetcher) ProbeSize(_ context.Context, url string) (int64, error) {
	if f.probeErr != nil {
		return -1, f.probeErr
	}
	if size, ok := f.probeSizes[url]; ok {
		return size, nil
	}
	return -1, nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func newSynchronizer(t *testing.T, f scrape.Fetcher) (*Synchronizer, string, string) {
	t.Helper()
	baseDir := t.TempDir()
	backupDir := t.TempDir()
	s := New(Config{BaseDir: baseDir, BackupDir: backupDir}, f,
		fixedClock{at: time.Unix(1700000000, 0).UTC()}, nil)
	return s, baseDir, backupDir
}

const imgURL = "https://example.fi/images/aprilia/tank.jpg"

func TestLocalPathDerivation(t *testing.T) {
	t.Parallel()

	s, _, _ := newSynchronizer(t, &fakeFetcher{})

	rel, err := s.LocalPath(imgURL)
	require.NoError(t, err)
	require.Equal(t, "aprilia/tank.jpg", rel)

	rel, err = s.LocalPath("https://example.fi/static/pic.jpg")
	require.NoError(t, err)
	require.Equal(t, "static/pic.jpg", rel, "marker absent falls back to the url path")

	_, err = s.LocalPath("https://example.fi/images/../etc/passwd")
	require.Error(t, err, "traversal segments are rejected")
}

func TestFirstDownloadIsNew(t *testing.T) {
	t.Parallel()

	payload := []byte("jpegbytes")
	f := &fakeFetcher{bodies: map[string][]byte{imgURL: payload}}
	s, baseDir, _ := newSynchronizer(t, f)
	store := memory.New()

	outcomes, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, scrape.AssetNew, outcomes[0].Status)
	require.Equal(t, int64(len(payload)), outcomes[0].Bytes)
	require.Equal(t, "aprilia/tank.jpg", outcomes[0].LocalPath)
	require.Empty(t, outcomes[0].BackupPath)

	written, err := os.ReadFile(filepath.Join(baseDir, "aprilia", "tank.jpg"))
	require.NoError(t, err)
	require.Equal(t, payload, written)

	row, err := store.ImageAsset(context.Background(), "part-1", imgURL)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "aprilia/tank.jpg", row.LocalPath)
	require.Equal(t, 0, row.Position)
}

func TestUnchangedRemoteSkipsTransferAndBackup(t *testing.T) {
	t.Parallel()

	payload := []byte("samebytes")
	f := &fakeFetcher{
		bodies:     map[string][]byte{imgURL: payload},
		probeSizes: map[string]int64{imgURL: int64(len(payload))},
	}
	s, baseDir, backupDir := newSynchronizer(t, f)
	store := memory.New()

	_, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)

	outcomes, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)
	require.Equal(t, scrape.AssetUnchanged, outcomes[0].Status)
	require.Empty(t, outcomes[0].BackupPath)

	entries := listFiles(t, backupDir)
	require.Empty(t, entries, "unchanged sync must not create backups")
	require.FileExists(t, filepath.Join(baseDir, "aprilia", "tank.jpg"))
}

func TestLyingProbeReclassifiedUnchanged(t *testing.T) {
	t.Parallel()

	payload := []byte("stablebytes")
	f := &fakeFetcher{bodies: map[string][]byte{imgURL: payload}}
	s, _, backupDir := newSynchronizer(t, f)
	store := memory.New()

	_, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)

	// No probe size available: the transfer happens, but equal byte
	// length reclassifies the result as unchanged.
	outcomes, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)
	require.Equal(t, scrape.AssetUnchanged, outcomes[0].Status)
	require.Empty(t, listFiles(t, backupDir))
}

func TestChangedRemoteCreatesBackup(t *testing.T) {
	t.Parallel()

	oldPayload := []byte("old-bytes")
	newPayload := []byte("completely different bytes")
	f := &fakeFetcher{bodies: map[string][]byte{imgURL: oldPayload}}
	s, _, backupDir := newSynchronizer(t, f)
	store := memory.New()

	_, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)

	f.bodies[imgURL] = newPayload
	outcomes, err := s.SyncPart(context.Background(), store, "part-1", []string{imgURL})
	require.NoError(t, err)
	require.Equal(t, scrape.AssetUpdated, outcomes[0].Status)
	require.NotEmpty(t, outcomes[0].BackupPath)

	backedUp, err := os.ReadFile(outcomes[0].BackupPath)
	require.NoError(t, err)
	require.Equal(t, oldPayload, backedUp, "backup holds the prior local content")

	require.Equal(t, []string{outcomes[0].BackupPath}, listFiles(t, backupDir))
}

func TestAbortStopsRemainingImages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{probeErr: scrape.NewAbortedError(imgURL, context.Canceled)}
	s, _, _ := newSynchronizer(t, f)
	store := memory.New()

	outcomes, err := s.SyncPart(context.Background(), store, "part-1",
		[]string{imgURL, "https://example.fi/images/aprilia/seat.jpg"})
	require.Error(t, err)
	require.Len(t, outcomes, 1, "abort stops before the next image")
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}
