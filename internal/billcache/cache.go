// Package billcache keeps the authoritative local copy of the bill list:
// fetched with a filter, mutated write-through and persisted for restarts
// and for the analysis assistant.
package billcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"billtrack/internal/core"
	"billtrack/internal/filter"
	"billtrack/internal/gateway"
	"billtrack/internal/log"
	"billtrack/internal/storage"
)

const billsPath = "/api/bills/"

// Store persists the snapshot.
type Store interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// Cache is the BillCache.
type Cache struct {
	api    gateway.Doer
	store  Store
	logger *log.Logger

	// writeMu serializes changes to bills together with their persistence.
	// It is never held with mu while the store runs, since store
	// subscribers may read the snapshot.
	writeMu sync.Mutex

	mu         sync.Mutex
	bills      []core.Bill
	generation uint64
	last       filter.State
	fetched    bool
	subs       map[int]func()
	nextSub    int
}

var _ filter.Fetcher = (*Cache)(nil)

func New(api gateway.Doer, store Store, logger *log.Logger) *Cache {
	return &Cache{
		api:    api,
		store:  store,
		logger: logger.WithComponent(log.ComponentCache),
		subs:   make(map[int]func()),
	}
}

// Load restores the persisted snapshot. A missing or unreadable snapshot
// leaves the cache empty.
func (c *Cache) Load(ctx context.Context) error {
	var bills []core.Bill
	ok, err := c.store.GetJSON(ctx, storage.KeyCachedBills, &bills)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding unreadable bill snapshot", log.FieldError, err)
		return nil
	}
	if !ok {
		return nil
	}
	sortNewestFirst(bills)

	c.writeMu.Lock()
	c.mu.Lock()
	c.bills = bills
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.logger.DebugContext(ctx, "Bill snapshot restored", log.FieldCount, len(bills))
	return nil
}

// Fetch replaces the cache with the bills matching s. A response that was
// overtaken by a later Fetch is dropped and ErrStale returned.
func (c *Cache) Fetch(ctx context.Context, s filter.State) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	var bills []core.Bill
	err := c.api.Do(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   billsPath,
		Query:  filter.Query(s),
	}, &bills)
	if err != nil {
		c.logger.WarnContext(ctx, "Fetching bills failed",
			log.FieldGeneration, gen, log.FieldError, err)
		return fmt.Errorf("fetch bills: %w", err)
	}
	sortNewestFirst(bills)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	latest := c.generation
	c.mu.Unlock()
	if gen != latest {
		c.logger.DebugContext(ctx, "Dropping stale bill list",
			log.FieldGeneration, gen, "latest", latest)
		return core.ErrStale
	}
	if err := c.store.SetJSON(ctx, storage.KeyCachedBills, bills); err != nil {
		return fmt.Errorf("persist bills: %w", err)
	}

	c.mu.Lock()
	c.bills = bills
	c.last = s
	c.fetched = true
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Bill list replaced",
		log.FieldGeneration, gen, log.FieldCount, len(bills))
	return nil
}

// Add creates a bill and puts the server's record first.
func (c *Cache) Add(ctx context.Context, d core.BillDraft) (core.Bill, error) {
	if err := d.Validate(); err != nil {
		return core.Bill{}, err
	}

	var created core.Bill
	if err := c.api.Do(ctx, gateway.Request{Method: http.MethodPost, Path: billsPath, Body: d}, &created); err != nil {
		return core.Bill{}, fmt.Errorf("create bill: %w", err)
	}

	err := c.mutate(ctx, func(bills []core.Bill) []core.Bill {
		return append([]core.Bill{created}, bills...)
	})
	if err != nil {
		return core.Bill{}, err
	}

	c.logger.InfoContext(ctx, "Bill created", log.NewFields().
		WithBill(created.ID, string(created.Type), created.Category, created.Amount.StringFixed(2)).ToSlice()...)
	c.emit()
	return created, nil
}

// Update replaces the bill with id by the draft, in place.
func (c *Cache) Update(ctx context.Context, id int64, d core.BillDraft) (core.Bill, error) {
	if err := d.Validate(); err != nil {
		return core.Bill{}, err
	}

	var updated core.Bill
	if err := c.api.Do(ctx, gateway.Request{Method: http.MethodPut, Path: billPath(id), Body: d}, &updated); err != nil {
		return core.Bill{}, fmt.Errorf("update bill %d: %w", id, err)
	}

	err := c.mutate(ctx, func(bills []core.Bill) []core.Bill {
		out := make([]core.Bill, len(bills))
		copy(out, bills)
		for i := range out {
			if out[i].ID == id {
				out[i] = updated
			}
		}
		return out
	})
	if err != nil {
		return core.Bill{}, err
	}

	c.logger.InfoContext(ctx, "Bill updated", log.NewFields().
		WithBill(updated.ID, string(updated.Type), updated.Category, updated.Amount.StringFixed(2)).ToSlice()...)
	c.emit()
	return updated, nil
}

// Remove deletes the bill with id.
func (c *Cache) Remove(ctx context.Context, id int64) error {
	if err := c.api.Do(ctx, gateway.Request{Method: http.MethodDelete, Path: billPath(id)}, nil); err != nil {
		return fmt.Errorf("delete bill %d: %w", id, err)
	}

	err := c.mutate(ctx, func(bills []core.Bill) []core.Bill {
		out := make([]core.Bill, 0, len(bills))
		for _, b := range bills {
			if b.ID != id {
				out = append(out, b)
			}
		}
		return out
	})
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Bill deleted", log.FieldBillID, id)
	c.emit()
	return nil
}

type nlpResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateFromText asks the server to create bills from free text, then
// reloads the list with the last filter. It returns the server's message.
func (c *Cache) CreateFromText(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", &core.ValidationError{Fields: map[string][]string{"input": {"input is empty"}}}
	}

	var resp nlpResponse
	if err := c.api.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/deepseek/",
		Body:   map[string]string{"input": input},
	}, &resp); err != nil {
		return "", fmt.Errorf("create bills from text: %w", err)
	}
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "no bill could be created from the text"
		}
		return "", &core.ValidationError{Message: msg}
	}

	c.mu.Lock()
	last, fetched := c.last, c.fetched
	c.mu.Unlock()
	if fetched {
		if err := c.Fetch(ctx, last); err != nil && !errors.Is(err, core.ErrStale) {
			c.logger.WarnContext(ctx, "Reloading after text creation failed", log.FieldError, err)
		}
	}

	c.emit()
	return resp.Message, nil
}

// mutate applies fn to the current list, persists the result and only then
// makes it current.
func (c *Cache) mutate(ctx context.Context, fn func([]core.Bill) []core.Bill) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	next := fn(c.bills)
	c.mu.Unlock()

	if err := c.store.SetJSON(ctx, storage.KeyCachedBills, next); err != nil {
		c.logger.ErrorContext(ctx, "Persisting bill list failed",
			log.FieldOperation, log.OpPersist, log.FieldError, err)
		return fmt.Errorf("persist bills: %w", err)
	}

	c.mu.Lock()
	c.bills = next
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the cached list, newest first.
func (c *Cache) Snapshot() []core.Bill {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Bill, len(c.bills))
	copy(out, c.bills)
	return out
}

// Filter returns the filter of the last successful fetch.
func (c *Cache) Filter() (filter.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.fetched
}

// OnDataChanged registers fn to run after every successful mutation.
func (c *Cache) OnDataChanged(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Cache) emit() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func billPath(id int64) string {
	return fmt.Sprintf("%s%d/", billsPath, id)
}

// sortNewestFirst orders by creation time descending; ties keep their
// relative order.
func sortNewestFirst(bills []core.Bill) {
	sort.SliceStable(bills, func(i, j int) bool {
		return bills[i].CreatedAt.After(bills[j].CreatedAt)
	})
}
