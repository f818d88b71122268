package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/gallery/internal/store"
)

// Status is the load state of a Cache.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Entry is a blob ready to render. The cache owns Handle; consumers borrow
// it and must not release it.
type Entry struct {
	Metadata
	Handle *Handle
}

// State is a snapshot of the cache. Entries keep the store's list order.
// LastError holds the failure of the newest refresh; a *PartialFetchError
// there means the refresh installed but dropped some entries.
type State struct {
	Entries    []Entry
	Status     Status
	LastError  error
	Generation uint64
}

// Cache mirrors the store's blob list with one live handle per entry.
//
// Refreshes may overlap. Each refresh takes a generation when it starts and
// installs only if no later-started refresh has installed already; a stale
// refresh releases the handles it acquired.
type Cache struct {
	store    RemoteStore
	registry *Registry
	payloads *store.PayloadCache
	opts     *Options
	logger   logrus.FieldLogger

	mu        sync.Mutex
	entries   []Entry
	status    Status
	lastErr   error
	started   uint64
	installed uint64
	inflight  int
	closed    bool
	debounce  *time.Timer
	subs      map[int]chan State
	nextSub   int
}

// NewCache creates an empty cache. It does not contact the store until the
// first Refresh.
func NewCache(s RemoteStore, registry *Registry, opts ...Option) (*Cache, error) {
	options := newOptions(opts)

	payloads, err := store.NewPayloadCache(options.PayloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create payload cache: %w", err)
	}

	return &Cache{
		store:    s,
		registry: registry,
		payloads: payloads,
		opts:     options,
		logger:   options.Logger,
		subs:     make(map[int]chan State),
	}, nil
}

type fetchResult struct {
	entry Entry
	err   error
}

// Refresh lists the store, fetches every payload and installs the result.
//
// A listing failure leaves the previous entries in place, sets StatusError
// and returns the error. Payload failures only drop the affected entries:
// Refresh returns nil and the returned State carries a *PartialFetchError.
func (c *Cache) Refresh(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return State{}, ErrClosed
	}
	c.started++
	gen := c.started
	c.inflight++
	c.status = StatusLoading
	c.publishLocked()
	c.mu.Unlock()

	log := c.logger.WithField("generation", gen)

	metas, err := retry(ctx, c.logger, "list", c.opts.RetryCount, c.opts.RetryDelay, func() ([]Metadata, error) {
		metas, err := c.store.List(ctx)
		return metas, classify("list blobs", err)
	})
	if err != nil {
		log.WithError(err).Error("refresh failed")
		return c.fail(gen, err), err
	}

	entries, failures := c.fetchAll(ctx, dedupe(metas))
	if err := ctx.Err(); err != nil {
		c.releaseEntries(entries)
		err = fmt.Errorf("fetch blobs: %w", err)
		log.WithError(err).Warn("refresh canceled")
		return c.fail(gen, err), err
	}
	for _, f := range failures {
		log.WithError(f.Err).WithField("id", f.ID).Warn("dropping blob from refresh")
	}
	var partial error
	if len(failures) > 0 {
		partial = &PartialFetchError{Failures: failures}
	}

	c.mu.Lock()
	if c.closed || gen <= c.installed {
		c.inflight--
		if !c.closed && c.inflight == 0 && c.status == StatusLoading {
			c.status = StatusIdle
			c.publishLocked()
		}
		state := c.stateLocked()
		closed := c.closed
		c.mu.Unlock()

		log.WithField("installed", state.Generation).Debug("discarding stale refresh")
		c.releaseEntries(entries)
		if closed {
			return State{}, ErrClosed
		}
		return state, nil
	}

	old := c.entries
	c.entries = entries
	c.installed = gen
	c.inflight--
	c.lastErr = partial
	c.status = StatusIdle
	if c.inflight > 0 {
		c.status = StatusLoading
	}
	keep := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		keep[m.ID] = struct{}{}
	}
	c.payloads.Retain(keep)
	c.publishLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	c.releaseEntries(old)

	log.WithFields(logrus.Fields{
		"entries": len(entries),
		"dropped": len(failures),
	}).Debug("refresh installed")
	return state, nil
}

// fetchAll fetches payloads and acquires handles in parallel. The result
// keeps the order of metas minus the entries that failed.
func (c *Cache) fetchAll(ctx context.Context, metas []Metadata) ([]Entry, []FetchFailure) {
	results := make([]fetchResult, len(metas))

	p := pool.New().WithMaxGoroutines(c.opts.Concurrency)
	for i, meta := range metas {
		p.Go(func() {
			results[i] = c.fetch(ctx, meta)
		})
	}
	p.Wait()

	entries := make([]Entry, 0, len(metas))
	var failures []FetchFailure
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, FetchFailure{ID: metas[i].ID, Err: r.err})
			continue
		}
		entries = append(entries, r.entry)
	}
	return entries, failures
}

func (c *Cache) fetch(ctx context.Context, meta Metadata) fetchResult {
	if meta.ContentType == "" {
		meta.ContentType = DefaultContentType
	}

	data, ok := c.payloads.Get(meta.ID)
	if !ok {
		var err error
		data, err = c.store.Get(ctx, meta.ID)
		if err != nil {
			return fetchResult{err: classify("fetch "+meta.ID, err)}
		}
		c.payloads.Add(meta.ID, data)
	}

	h, err := c.registry.Acquire(ctx, meta.ID, data, meta.ContentType)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{entry: Entry{Metadata: meta, Handle: h}}
}

func (c *Cache) fail(gen uint64, err error) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--
	if c.closed {
		return State{}
	}
	if gen > c.installed {
		c.status = StatusError
		c.lastErr = err
	} else if c.inflight == 0 && c.status == StatusLoading {
		c.status = StatusIdle
	}
	c.publishLocked()
	return c.stateLocked()
}

// Get returns the cached entry for id.
func (c *Cache) Get(id string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("entry %q: %w", id, ErrNotFound)
}

// Entries returns the installed entries in list order.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Loaded reports whether any refresh has installed.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installed > 0
}

// ApplyInsert installs a single entry without a full refresh. An existing
// entry with the same id is replaced and its handle released.
func (c *Cache) ApplyInsert(ctx context.Context, meta Metadata, data []byte) (Entry, error) {
	h, err := c.registry.Acquire(ctx, meta.ID, data, meta.ContentType)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Metadata: meta, Handle: h}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.registry.Release(h)
		return Entry{}, ErrClosed
	}
	var old *Handle
	if i := c.indexLocked(meta.ID); i >= 0 {
		old = c.entries[i].Handle
		c.entries[i] = entry
	} else {
		c.entries = append(c.entries, entry)
	}
	c.payloads.Add(meta.ID, data)
	c.publishLocked()
	c.mu.Unlock()

	c.registry.Release(old)
	return entry, nil
}

// ApplyRemove drops the entry for id and releases its handle. It reports
// whether an entry was removed.
func (c *Cache) ApplyRemove(id string) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return false
	}
	h := c.entries[i].Handle
	c.entries = slices.Delete(c.entries, i, i+1)
	c.payloads.Remove(id)
	c.publishLocked()
	c.mu.Unlock()

	c.registry.Release(h)
	return true
}

// Invalidate schedules a refresh. Calls within the debounce window collapse
// into one refresh; its outcome is visible through State and Subscribe.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.debounce != nil {
		c.debounce.Reset(c.opts.RefreshDebounce)
		return
	}
	c.debounce = time.AfterFunc(c.opts.RefreshDebounce, func() {
		c.mu.Lock()
		c.debounce = nil
		c.mu.Unlock()

		if _, err := c.Refresh(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.WithError(err).Warn("background refresh failed")
		}
	})
}

// Subscribe returns a channel of state snapshots and a function that ends
// the subscription. Slow subscribers only see the latest state.
func (c *Cache) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.stateLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Close releases every handle the cache owns and ends all subscriptions.
// In-flight refreshes release their own handles when they finish.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	entries := c.entries
	c.entries = nil
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.payloads.Clear()
	c.mu.Unlock()

	c.releaseEntries(entries)
	return nil
}

func (c *Cache) releaseEntries(entries []Entry) {
	for _, e := range entries {
		c.registry.Release(e.Handle)
	}
}

func (c *Cache) indexLocked(id string) int {
	return slices.IndexFunc(c.entries, func(e Entry) bool { return e.ID == id })
}

func (c *Cache) stateLocked() State {
	return State{
		Entries:    slices.Clone(c.entries),
		Status:     c.status,
		LastError:  c.lastErr,
		Generation: c.installed,
	}
}

// publishLocked hands the current state to every subscriber, replacing any
// snapshot a subscriber has not read yet.
func (c *Cache) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	state := c.stateLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

// dedupe keeps the first occurrence of every id.
func dedupe(metas []Metadata) []Metadata {
	seen := make(map[string]struct{}, len(metas))
	out := make([]Metadata, 0, len(metas))
	for _, m := range metas {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
