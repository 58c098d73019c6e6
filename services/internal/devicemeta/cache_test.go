package devicemeta

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meteo-dashboard/services/internal/store"
)

type fakeSource struct {
	mu      sync.Mutex
	devices map[string]map[string]string
	err     error
	delay   time.Duration
	loads   atomic.Int32
}

func (f *fakeSource) ListDevices(ctx context.Context) ([]string, error) {
	f.loads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) BatchGetFields(ctx context.Context, keys, fields []string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = f.devices[k]
	}
	return out, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFixture() (*fakeSource, *clock) {
	src := &fakeSource{devices: map[string]map[string]string{
		"salon":       {"label": "Salon", "tempColor": "#ff0000", "humColor": "#0000ff"},
		"infoclimat1": {"label": "Prévisions"},
		"cave":        {},
	}}
	return src, &clock{t: time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)}
}

func TestGetKnownAndUnknown(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now))
	ctx := context.Background()

	assert.Equal(t, Metadata{ID: "salon", Label: "Salon", TempColor: "#ff0000", HumColor: "#0000ff"}, c.Get(ctx, "salon"))
	assert.Equal(t, Metadata{ID: "cave"}, c.Get(ctx, "cave"))
	assert.Equal(t, Metadata{ID: "ghost"}, c.Get(ctx, "ghost"))
	assert.Equal(t, int32(1), src.loads.Load(), "misses must not trigger per-device fetches")
}

func TestAllSorted(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now))

	all := c.All(context.Background())
	require.Len(t, all, 3)
	assert.Equal(t, "cave", all[0].ID)
	assert.Equal(t, "infoclimat1", all[1].ID)
	assert.Equal(t, "salon", all[2].ID)
}

func TestRefreshAfterTTL(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now), WithTTL(time.Minute))
	ctx := context.Background()

	c.Get(ctx, "salon")
	clk.Advance(59 * time.Second)
	c.Get(ctx, "salon")
	assert.Equal(t, int32(1), src.loads.Load())

	clk.Advance(time.Second)
	c.Get(ctx, "salon")
	assert.Equal(t, int32(2), src.loads.Load())
}

func TestInvalidate(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now))
	ctx := context.Background()

	c.Get(ctx, "salon")
	c.Invalidate()
	c.Get(ctx, "salon")
	assert.Equal(t, int32(2), src.loads.Load())
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now))
	ctx := context.Background()

	require.Equal(t, "Salon", c.Get(ctx, "salon").Label)

	src.setErr(errors.New("connection refused"))
	clk.Advance(2 * time.Minute)
	assert.Equal(t, "Salon", c.Get(ctx, "salon").Label)
	assert.Error(t, c.Refresh(ctx))
}

func TestFailedFirstRefreshFallsBack(t *testing.T) {
	src, clk := newFixture()
	src.setErr(errors.New("connection refused"))
	c := New(src, WithClock(clk.Now))

	assert.Equal(t, Metadata{ID: "salon"}, c.Get(context.Background(), "salon"))
	assert.Empty(t, c.All(context.Background()))
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	src, clk := newFixture()
	src.delay = 50 * time.Millisecond
	c := New(src, WithClock(clk.Now))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), "salon")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.loads.Load())
}

func TestCanceledCallerDoesNotAbortRefresh(t *testing.T) {
	src, clk := newFixture()
	c := New(src, WithClock(clk.Now))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, "Salon", c.Get(ctx, "salon").Label)
}

func TestWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	ctx := context.Background()

	require.NoError(t, rdb.SAdd(ctx, store.DevicesKey, "salon", "garage").Err())
	require.NoError(t, rdb.HSet(ctx, "salon", "label", "Salon", "humColor", "#123456").Err())

	c := New(store.New(rdb))
	assert.Equal(t, Metadata{ID: "salon", Label: "Salon", HumColor: "#123456"}, c.Get(ctx, "salon"))
	assert.Equal(t, "garage", c.Get(ctx, "garage").DisplayLabel())
}
