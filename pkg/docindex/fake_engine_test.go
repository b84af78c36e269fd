package docindex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serhiybutz/docindexer/internal/store"
)

// fakeEngine records the engine calls made by an Indexer and serves
// scripted search batches.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	refs    map[int64]string
	ids     map[string]int64
	props   map[string]map[string]any
	nextID  int64
	batches []store.Batch

	addErr     error
	flushErr   error
	compactErr error
	searchErr  error
	findErr    error

	// mutationDelay widens the window in which overlapping mutations would
	// be observed.
	mutationDelay time.Duration
	active        atomic.Int32
	maxActive     atomic.Int32

	searches  []*fakeSearch
	findCalls atomic.Int32
	closed    atomic.Int32
}

var _ store.Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		refs:  make(map[int64]string),
		ids:   make(map[string]int64),
		props: make(map[string]map[string]any),
	}
}

func (f *fakeEngine) enter(call string) func() {
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.mutationDelay > 0 {
		time.Sleep(f.mutationDelay)
	}
	f.record(call)
	return func() { f.active.Add(-1) }
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) AddDocument(_ context.Context, ref string, _ string) error {
	defer f.enter("add:" + ref)()
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.ids[ref]; ok {
		delete(f.refs, old)
	}
	f.nextID++
	f.ids[ref] = f.nextID
	f.refs[f.nextID] = ref
	return nil
}

func (f *fakeEngine) RemoveDocument(_ context.Context, ref string) error {
	defer f.enter("remove:" + ref)()
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[ref]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrDocumentNotFound, ref)
	}
	delete(f.ids, ref)
	delete(f.refs, id)
	return nil
}

func (f *fakeEngine) SetProperties(_ context.Context, ref string, props map[string]any) error {
	defer f.enter("set_properties:" + ref)()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[ref] = props
	return nil
}

func (f *fakeEngine) Properties(_ context.Context, ref string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[ref], nil
}

func (f *fakeEngine) Flush(context.Context) error {
	defer f.enter("flush")()
	return f.flushErr
}

func (f *fakeEngine) Compact(context.Context) error {
	defer f.enter("compact")()
	return f.compactErr
}

func (f *fakeEngine) MaxDocumentID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID, nil
}

func (f *fakeEngine) DocumentCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.ids)), nil
}

func (f *fakeEngine) NewSearch(_ context.Context, query string, _ store.SearchOption) (store.Search, error) {
	f.record("search:" + query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSearch{engine: f, batches: append([]store.Batch(nil), f.batches...)}
	f.searches = append(f.searches, s)
	return s, nil
}

func (f *fakeEngine) ResolveDocuments(_ context.Context, ids []int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = f.refs[id]
	}
	return out, nil
}

func (f *fakeEngine) Info() store.Info {
	return store.Info{Backend: "fake", Config: store.DefaultConfig()}
}

func (f *fakeEngine) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeSearch struct {
	engine    *fakeEngine
	batches   []store.Batch
	cancelled atomic.Bool
}

func (s *fakeSearch) FindMatches(context.Context, int, time.Duration) (store.Batch, error) {
	s.engine.findCalls.Add(1)
	if s.cancelled.Load() {
		return store.Batch{}, store.ErrSearchCancelled
	}
	if s.engine.findErr != nil {
		return store.Batch{}, s.engine.findErr
	}
	if len(s.batches) == 0 {
		return store.Batch{}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeSearch) Cancel() {
	s.cancelled.Store(true)
}

// recordingRecorder collects Recorder calls.
type recordingRecorder struct {
	mu        sync.Mutex
	mutations []string
	flushes   []string
	flushErrs int
	compacts  int
	batches   int
	uncompact []int64
}

func (r *recordingRecorder) RecordMutation(op string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, op)
}

func (r *recordingRecorder) RecordFlush(trigger string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, trigger)
	if err != nil {
		r.flushErrs++
	}
}

func (r *recordingRecorder) RecordCompaction(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compacts++
}

func (r *recordingRecorder) RecordSearchBatch(int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
}

func (r *recordingRecorder) RecordUncompacted(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uncompact = append(r.uncompact, n)
}
