package billcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billtrack/internal/core"
	"billtrack/internal/filter"
	"billtrack/internal/gateway"
	"billtrack/internal/log"
	"billtrack/internal/storage"
)

var base = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

// billServer is an in-memory bills backend.
type billServer struct {
	mu        sync.Mutex
	bills     []core.Bill
	nextID    int64
	queries   []string
	summaries int32
	nlpStatus string
	// delay holds back list responses whose query contains the key.
	delay map[string]chan struct{}
	// summaryGate holds back today_summary responses while set.
	summaryGate chan struct{}
}

func newBillServer(bills ...core.Bill) *billServer {
	return &billServer{bills: bills, nextID: 100, nlpStatus: "success", delay: map[string]chan struct{}{}}
}

func (s *billServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case path == "/api/bills/today_summary/":
		atomic.AddInt32(&s.summaries, 1)
		s.mu.Lock()
		gate := s.summaryGate
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		_, _ = w.Write([]byte(`{"income":"0.00","expense":"15.50","date":"2024-01-03"}`))

	case path == "/api/deepseek/":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if s.nlpStatus != "success" {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "无法解析有效的账单信息"})
			return
		}
		s.mu.Lock()
		s.nextID++
		s.bills = append(s.bills, bill(s.nextID, core.Expense, "food", "30.00", "2024-01-10", base.Add(time.Hour)))
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success", "message": "成功创建 1 条账单记录"})

	case path == "/api/bills/" && r.Method == http.MethodGet:
		q := r.URL.RawQuery
		s.mu.Lock()
		s.queries = append(s.queries, q)
		var gate chan struct{}
		for key, ch := range s.delay {
			if strings.Contains(q, key) {
				gate = ch
			}
		}
		out := s.filtered(r)
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		_ = json.NewEncoder(w).Encode(out)

	case path == "/api/bills/" && r.Method == http.MethodPost:
		var d map[string]any
		_ = json.NewDecoder(r.Body).Decode(&d)
		s.mu.Lock()
		s.nextID++
		b := bill(s.nextID, core.BillType(d["type"].(string)), d["category"].(string), d["amount"].(string), d["date"].(string), base.Add(24*time.Hour))
		s.bills = append(s.bills, b)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(b)

	case strings.HasPrefix(path, "/api/bills/"):
		id, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(path, "/api/bills/"), "/"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, b := range s.bills {
			if b.ID != id {
				continue
			}
			switch r.Method {
			case http.MethodDelete:
				s.bills = append(s.bills[:i], s.bills[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
			case http.MethodPut:
				var d map[string]any
				_ = json.NewDecoder(r.Body).Decode(&d)
				b.Amount = decimal.RequireFromString(d["amount"].(string))
				b.Category = d["category"].(string)
				s.bills[i] = b
				_ = json.NewEncoder(w).Encode(b)
			}
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// filtered applies type and date range like the backend filterset.
func (s *billServer) filtered(r *http.Request) []core.Bill {
	q := r.URL.Query()
	out := []core.Bill{}
	for _, b := range s.bills {
		if t := q.Get("type"); t != "" && !strings.Contains(t, string(b.Type)) {
			continue
		}
		if after := q.Get("date_after"); after != "" && b.Date.String() < after {
			continue
		}
		if before := q.Get("date_before"); before != "" && b.Date.String() > before {
			continue
		}
		out = append(out, b)
	}
	return out
}

func bill(id int64, t core.BillType, category, amount, date string, created time.Time) core.Bill {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Bill{
		ID:        id,
		Type:      t,
		Category:  category,
		Amount:    decimal.RequireFromString(amount),
		Date:      d,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

type cacheFixture struct {
	server *billServer
	store  *storage.Store
	cache  *Cache
	api    gateway.Doer
}

func newCacheFixture(t *testing.T, bills ...core.Bill) *cacheFixture {
	t.Helper()
	server := newBillServer(bills...)
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	api, err := gateway.New(srv.URL, nil)
	require.NoError(t, err)

	return &cacheFixture{server: server, store: store, api: api, cache: New(api, store, log.Discard())}
}

func (f *cacheFixture) persisted(t *testing.T) []core.Bill {
	t.Helper()
	var bills []core.Bill
	_, err := f.store.GetJSON(context.Background(), storage.KeyCachedBills, &bills)
	require.NoError(t, err)
	return bills
}

func ids(bills []core.Bill) []int64 {
	out := make([]int64, len(bills))
	for i, b := range bills {
		out[i] = b.ID
	}
	return out
}

func weekFilter() filter.State {
	return filter.State{
		Types: []core.BillType{core.Expense},
		Start: core.NewDate(2024, 1, 1),
		End:   core.NewDate(2024, 1, 7),
	}
}

func TestFetchFiltersAndSortsNewestFirst(t *testing.T) {
	f := newCacheFixture(t,
		bill(1, core.Expense, "food", "10.00", "2024-01-02", base),
		bill(2, core.Income, "salary", "900.00", "2024-01-03", base.Add(time.Minute)),
		bill(3, core.Expense, "shopping", "20.00", "2024-01-05", base.Add(2*time.Minute)),
		bill(4, core.Expense, "food", "5.00", "2024-01-08", base.Add(3*time.Minute)),
		bill(5, core.Expense, "food", "7.00", "2024-01-07", base.Add(-time.Minute)),
	)

	require.NoError(t, f.cache.Fetch(context.Background(), weekFilter()))

	got := f.cache.Snapshot()
	assert.Equal(t, []int64{3, 1, 5}, ids(got))
	for _, b := range got {
		assert.Equal(t, core.Expense, b.Type)
	}
	assert.Equal(t, got, f.persisted(t))
	assert.Equal(t, []string{"date_after=2024-01-01&date_before=2024-01-07&type=expense"}, f.server.queries)
}

func TestFetchDropsStaleResponse(t *testing.T) {
	f := newCacheFixture(t,
		bill(1, core.Expense, "food", "10.00", "2024-01-02", base),
		bill(2, core.Income, "salary", "900.00", "2024-01-03", base.Add(time.Minute)),
	)
	release := make(chan struct{})
	f.server.delay["type=income"] = release
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		slow <- f.cache.Fetch(ctx, filter.State{Types: []core.BillType{core.Income}})
	}()
	require.Eventually(t, func() bool {
		f.server.mu.Lock()
		defer f.server.mu.Unlock()
		return len(f.server.queries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.cache.Fetch(ctx, filter.State{Types: []core.BillType{core.Expense}}))
	close(release)

	assert.ErrorIs(t, <-slow, core.ErrStale)
	assert.Equal(t, []int64{1}, ids(f.cache.Snapshot()))
	last, ok := f.cache.Filter()
	require.True(t, ok)
	assert.Equal(t, []core.BillType{core.Expense}, last.Types)
}

func TestAddPrependsAndNotifiesSummary(t *testing.T) {
	f := newCacheFixture(t, bill(1, core.Expense, "food", "10.00", "2024-01-02", base))
	ctx := context.Background()
	require.NoError(t, f.cache.Fetch(ctx, filter.State{}))

	watcher := NewSummaryWatcher(f.api, f.cache, NewSummaryCache(time.Hour), log.Discard())
	defer watcher.Close()
	_, err := watcher.Today(ctx)
	require.NoError(t, err)
	_, err = watcher.Today(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.server.summaries), "second read is served from cache")

	var changed int
	f.cache.OnDataChanged(func() { changed++ })

	created, err := f.cache.Add(ctx, core.BillDraft{
		Type:     core.Expense,
		Category: "food",
		Amount:   decimal.RequireFromString("15.50"),
		Date:     core.NewDate(2024, 1, 3),
	})
	require.NoError(t, err)

	snap := f.cache.Snapshot()
	assert.Equal(t, created.ID, snap[0].ID)
	assert.Equal(t, int64(101), created.ID)
	assert.True(t, decimal.RequireFromString("15.50").Equal(snap[0].Amount))
	assert.Equal(t, 1, changed)
	assert.Equal(t, snap, f.persisted(t))

	sum, err := watcher.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.server.summaries), "data change invalidates the summary")
	assert.Equal(t, "15.50", sum.Expense.StringFixed(2))
}

func TestSummaryFetchedAcrossInvalidationIsNotCached(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	watcher := NewSummaryWatcher(f.api, f.cache, NewSummaryCache(time.Hour), log.Discard())
	defer watcher.Close()

	release := make(chan struct{})
	f.server.mu.Lock()
	f.server.summaryGate = release
	f.server.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := watcher.Today(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&f.server.summaries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	watcher.Invalidate()
	f.server.mu.Lock()
	f.server.summaryGate = nil
	f.server.mu.Unlock()
	close(release)
	require.NoError(t, <-done)

	_, err := watcher.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.server.summaries), "summary from before the invalidation is refetched")

	_, err = watcher.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.server.summaries))
}

func TestStoreSubscribersCanReadSnapshot(t *testing.T) {
	f := newCacheFixture(t, bill(1, core.Expense, "food", "10.00", "2024-01-02", base))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []int
	stop := f.store.Subscribe(func(c storage.Change) {
		if c.Key != storage.KeyCachedBills {
			return
		}
		n := len(f.cache.Snapshot())
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})
	defer stop()

	done := make(chan error, 1)
	go func() {
		if err := f.cache.Fetch(ctx, filter.State{}); err != nil {
			done <- err
			return
		}
		_, err := f.cache.Add(ctx, core.BillDraft{
			Type: core.Expense, Category: "food", Amount: decimal.NewFromInt(2), Date: core.NewDate(2024, 1, 3),
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("persisting the bill list blocked a subscriber reading the snapshot")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
	assert.Len(t, f.cache.Snapshot(), 2)
}

func TestAddRejectsForeignCategoryWithoutNetwork(t *testing.T) {
	f := newCacheFixture(t)

	_, err := f.cache.Add(context.Background(), core.BillDraft{
		Type:     core.Income,
		Category: "food",
		Amount:   decimal.NewFromInt(1),
		Date:     core.NewDate(2024, 1, 3),
	})

	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.NotEmpty(t, ve.Field("category"))
	assert.Empty(t, f.cache.Snapshot())
	assert.Empty(t, f.server.queries)
}

func TestUpdateAndRemove(t *testing.T) {
	f := newCacheFixture(t,
		bill(1, core.Expense, "food", "10.00", "2024-01-02", base),
		bill(2, core.Expense, "shopping", "20.00", "2024-01-03", base.Add(time.Minute)),
	)
	ctx := context.Background()
	require.NoError(t, f.cache.Fetch(ctx, filter.State{}))

	d := f.cache.Snapshot()[1].Draft()
	d.Amount = decimal.RequireFromString("12.00")
	d.Category = "living"
	updated, err := f.cache.Update(ctx, 1, d)
	require.NoError(t, err)
	assert.Equal(t, "living", updated.Category)

	snap := f.cache.Snapshot()
	assert.Equal(t, []int64{2, 1}, ids(snap), "update keeps position")
	assert.Equal(t, "12.00", snap[1].Amount.StringFixed(2))

	require.NoError(t, f.cache.Remove(ctx, 2))
	assert.Equal(t, []int64{1}, ids(f.cache.Snapshot()))
	assert.Equal(t, f.cache.Snapshot(), f.persisted(t))

	err = f.cache.Remove(ctx, 2)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Len(t, f.cache.Snapshot(), 1)
}

func TestCreateFromText(t *testing.T) {
	t.Run("success reloads with last filter", func(t *testing.T) {
		f := newCacheFixture(t)
		ctx := context.Background()
		require.NoError(t, f.cache.Fetch(ctx, filter.State{}))

		var changed int
		f.cache.OnDataChanged(func() { changed++ })

		msg, err := f.cache.CreateFromText(ctx, "今天午饭花了30")
		require.NoError(t, err)
		assert.Equal(t, "成功创建 1 条账单记录", msg)
		assert.Len(t, f.cache.Snapshot(), 1)
		assert.Len(t, f.server.queries, 2)
		assert.Equal(t, 1, changed)
	})

	t.Run("failure status", func(t *testing.T) {
		f := newCacheFixture(t)
		f.server.nlpStatus = "error"

		_, err := f.cache.CreateFromText(context.Background(), "asdf")
		var ve *core.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "无法解析有效的账单信息", ve.Error())
	})

	t.Run("empty input", func(t *testing.T) {
		f := newCacheFixture(t)
		_, err := f.cache.CreateFromText(context.Background(), "  ")
		var ve *core.ValidationError
		assert.True(t, errors.As(err, &ve))
	})
}

func TestLoadRestoresSnapshot(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()
	saved := []core.Bill{
		bill(1, core.Expense, "food", "10.00", "2024-01-02", base),
		bill(2, core.Expense, "food", "11.00", "2024-01-02", base.Add(time.Hour)),
	}
	require.NoError(t, f.store.SetJSON(ctx, storage.KeyCachedBills, saved))

	require.NoError(t, f.cache.Load(ctx))
	assert.Equal(t, []int64{2, 1}, ids(f.cache.Snapshot()))
}

type failingStore struct{ err error }

func (s failingStore) GetJSON(context.Context, string, any) (bool, error) { return false, nil }
func (s failingStore) SetJSON(context.Context, string, any) error         { return s.err }

func TestPersistFailureLeavesSnapshotUntouched(t *testing.T) {
	server := newBillServer(bill(1, core.Expense, "food", "10.00", "2024-01-02", base))
	srv := httptest.NewServer(server)
	defer srv.Close()
	api, err := gateway.New(srv.URL, nil)
	require.NoError(t, err)

	c := New(api, failingStore{err: fmt.Errorf("disk full")}, log.Discard())
	var changed int
	c.OnDataChanged(func() { changed++ })

	assert.Error(t, c.Fetch(context.Background(), filter.State{}))
	assert.Empty(t, c.Snapshot())

	_, err = c.Add(context.Background(), core.BillDraft{
		Type: core.Expense, Category: "food", Amount: decimal.NewFromInt(3), Date: core.NewDate(2024, 1, 3),
	})
	assert.Error(t, err)
	assert.Empty(t, c.Snapshot())
	assert.Zero(t, changed)
}
