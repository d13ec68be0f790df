package memory

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/everlore/recall/internal/settings"
	"github.com/everlore/recall/store"
)

// fakeDriver is an in-memory store.Driver with real similarity search,
// used by the queue and retrieval tests.
type fakeDriver struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string][]store.MemoryRecord
	upsertOrder []string

	existsErr error
	upsertErr error
	searchErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		collections: make(map[string]int),
		points:      make(map[string][]store.MemoryRecord),
	}
}

func (d *fakeDriver) CollectionExists(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.existsErr != nil {
		return false, d.existsErr
	}
	_, ok := d.collections[name]
	return ok, nil
}

func (d *fakeDriver) CreateCollection(_ context.Context, name string, dimensions int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.collections[name]; !ok {
		d.collections[name] = dimensions
	}
	return nil
}

func (d *fakeDriver) UpsertPoint(_ context.Context, collection string, record store.MemoryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.upsertErr != nil {
		return d.upsertErr
	}
	dims, ok := d.collections[collection]
	if !ok {
		return errors.Errorf("collection %s does not exist", collection)
	}
	if len(record.Vector) != dims {
		return errors.Errorf("vector length %d does not match collection dimensionality %d", len(record.Vector), dims)
	}
	pts := d.points[collection]
	for i, p := range pts {
		if p.ID == record.ID {
			pts[i] = record
			return nil
		}
	}
	d.points[collection] = append(pts, record)
	d.upsertOrder = append(d.upsertOrder, record.MessageID)
	return nil
}

func (d *fakeDriver) Search(_ context.Context, collection string, opts store.SearchOptions) ([]store.ScoredRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.searchErr != nil {
		return nil, d.searchErr
	}
	var out []store.ScoredRecord
	for _, p := range d.points[collection] {
		if opts.NamespaceKey != "" && p.NamespaceKey != opts.NamespaceKey {
			continue
		}
		score := dot(opts.Vector, p.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		out = append(out, store.ScoredRecord{MemoryRecord: p, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (d *fakeDriver) GetCollectionInfo(_ context.Context, name string) (*store.CollectionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dims, ok := d.collections[name]
	if !ok {
		return nil, errors.Errorf("collection %s does not exist", name)
	}
	n := len(d.points[name])
	return &store.CollectionInfo{PointCount: n, VectorCount: n, Dimensions: dims}, nil
}

func (d *fakeDriver) DeleteCollection(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, name)
	delete(d.points, name)
	return nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) pointCount(collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.points[collection])
}

func (d *fakeDriver) order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.upsertOrder...)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// fakeEmbedder maps known texts to unit vectors, everything else to a
// default. Texts listed in failOn return an error.
type fakeEmbedder struct {
	vectors map[string][]float32
	failOn  map[string]bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: make(map[string][]float32),
		failOn:  make(map[string]bool),
	}
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.failOn[text] {
		return nil, errors.New("embedding backend unavailable")
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *fakeEmbedder) Dimensions() int { return 3 }

func testSettings(t *testing.T, mutate func(*settings.Settings)) *settings.Manager {
	t.Helper()
	mgr := settings.NewManager(filepath.Join(t.TempDir(), "settings.yaml"))
	mgr.Update(func(s *settings.Settings) {
		s.BaseCollection = "mem"
		s.MinMessageLength = 1
		if mutate != nil {
			mutate(s)
		}
	})
	return mgr
}
