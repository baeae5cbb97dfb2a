package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cinehub/cinehub/internal/cache"
)

type remoteStub struct {
	calls   atomic.Int32
	payload json.RawMessage
	err     error
}

func (r *remoteStub) call(context.Context) (json.RawMessage, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.payload, nil
}

func TestFetchPopulatesOnMissThenServesFresh(t *testing.T) {
	store := cache.NewMemoryStore()
	orch := NewOrchestrator(store, nil)
	remote := &remoteStub{payload: json.RawMessage(`{"results":[1]}`)}

	res, err := orch.Fetch(context.Background(), "trending_movies", remote.call, Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if res.Source != SourceRemote {
		t.Fatalf("expected remote source on miss, got %s", res.Source)
	}
	if !store.Has(context.Background(), "trending_movies") {
		t.Fatalf("miss should populate the cache")
	}

	res, err = orch.Fetch(context.Background(), "trending_movies", remote.call, Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if res.Source != SourceFresh {
		t.Fatalf("expected fresh cache hit, got %s", res.Source)
	}
	if remote.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", remote.calls.Load())
	}
}

// Documented contract: a finite TTL is honored and an expired entry is refetched.
func TestFetchFiniteTTLIsHonored(t *testing.T) {
	store := cache.NewMemoryStore()
	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })
	if err := store.Set(context.Background(), "top_rated_movies", json.RawMessage(`{"results":["old"]}`), time.Hour); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	store.SetClock(time.Now)

	orch := NewOrchestrator(store, nil)
	remote := &remoteStub{payload: json.RawMessage(`{"results":["new"]}`)}

	res, err := orch.Fetch(context.Background(), "top_rated_movies", remote.call, Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if res.Source != SourceRemote || string(res.Payload) != `{"results":["new"]}` {
		t.Fatalf("expired entry should be refetched, got %s %s", res.Source, res.Payload)
	}
}

// Observed "manual" policy: entries written with NoExpiry stay fresh until a forced refresh.
func TestFetchNoExpiryIgnoresAge(t *testing.T) {
	store := cache.NewMemoryStore()
	past := time.Now().Add(-365 * 24 * time.Hour)
	store.SetClock(func() time.Time { return past })
	if err := store.Set(context.Background(), "action_movies", json.RawMessage(`{"results":["old"]}`), cache.NoExpiry); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	orch := NewOrchestrator(store, nil)
	remote := &remoteStub{payload: json.RawMessage(`{"results":["new"]}`)}

	res, err := orch.Fetch(context.Background(), "action_movies", remote.call, Options{TTL: cache.NoExpiry})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if res.Source != SourceFresh || remote.calls.Load() != 0 {
		t.Fatalf("NoExpiry entry should be served without upstream call, source=%s calls=%d", res.Source, remote.calls.Load())
	}

	res, err = orch.Fetch(context.Background(), "action_movies", remote.call, Options{TTL: cache.NoExpiry, ForceRefresh: true})
	if err != nil {
		t.Fatalf("forced fetch error: %v", err)
	}
	if res.Source != SourceRemote || string(res.Payload) != `{"results":["new"]}` {
		t.Fatalf("forced refresh should replace the entry, got %s %s", res.Source, res.Payload)
	}
}

func TestFetchStaleIfError(t *testing.T) {
	store := cache.NewMemoryStore()
	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })
	if err := store.Set(context.Background(), "comedy_movies", json.RawMessage(`{"results":[3]}`), time.Minute); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	orch := NewOrchestrator(store, nil)
	boom := errors.New("connection refused")
	remote := &remoteStub{err: boom}

	res, err := orch.Fetch(context.Background(), "comedy_movies", remote.call, Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("stale fallback should not surface an error: %v", err)
	}
	if !res.Stale() {
		t.Fatalf("expected stale result, got %s", res.Source)
	}
	if !errors.Is(res.UpstreamErr, boom) {
		t.Fatalf("stale result should carry the upstream error, got %v", res.UpstreamErr)
	}
	if string(res.Payload) != `{"results":[3]}` {
		t.Fatalf("unexpected stale payload: %s", res.Payload)
	}
	if !res.CreatedAt.Equal(past.UTC()) {
		t.Fatalf("stale result should report original timestamp")
	}
}

func TestFetchPropagatesErrorWithoutCache(t *testing.T) {
	orch := NewOrchestrator(cache.NewMemoryStore(), nil)
	boom := errors.New("status 503")
	remote := &remoteStub{err: boom}

	_, err := orch.Fetch(context.Background(), "horror_movies", remote.call, Options{})
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upstreamErr.Key != "horror_movies" || !errors.Is(err, boom) {
		t.Fatalf("unexpected error details: %v", err)
	}
}

func TestFetchRejectsInvalidPayload(t *testing.T) {
	store := cache.NewMemoryStore()
	orch := NewOrchestrator(store, nil)

	cases := map[string]json.RawMessage{
		"null":      json.RawMessage(`null`),
		"empty":     json.RawMessage(``),
		"scalar":    json.RawMessage(`42`),
		"malformed": json.RawMessage(`{"results":`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			remote := &remoteStub{payload: payload}
			_, err := orch.Fetch(context.Background(), "k_"+name, remote.call, Options{})
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
			if store.Has(context.Background(), "k_"+name) {
				t.Fatalf("invalid payload must never be cached")
			}
		})
	}
}

func TestFetchInvalidPayloadFallsBackToCache(t *testing.T) {
	store := cache.NewMemoryStore()
	if err := store.Set(context.Background(), "romance_movies", json.RawMessage(`{"results":[1]}`), cache.NoExpiry); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	orch := NewOrchestrator(store, nil)
	remote := &remoteStub{payload: json.RawMessage(`{"status_message":"oops"}`)}

	res, err := orch.Fetch(context.Background(), "romance_movies", remote.call, Options{ForceRefresh: true, Validate: ValidateList})
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if !res.Stale() || !errors.Is(res.UpstreamErr, ErrInvalidPayload) {
		t.Fatalf("expected stale result caused by invalid payload, got %s %v", res.Source, res.UpstreamErr)
	}
	entry, _ := store.Get(context.Background(), "romance_movies")
	if string(entry.Payload) != `{"results":[1]}` {
		t.Fatalf("cache must keep the previous payload, got %s", entry.Payload)
	}
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	orch := NewOrchestrator(cache.NewMemoryStore(), nil)
	release := make(chan struct{})
	var calls atomic.Int32
	remote := func(context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`{"results":[]}`), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Fetch(context.Background(), "netflix_originals", remote, Options{}); err != nil {
				t.Errorf("fetch error: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls.Load())
	}
}

func TestFetchRequiresKeyAndRemote(t *testing.T) {
	orch := NewOrchestrator(cache.NewMemoryStore(), nil)
	if _, err := orch.Fetch(context.Background(), "", (&remoteStub{}).call, Options{}); err == nil {
		t.Fatalf("empty key should fail")
	}
	if _, err := orch.Fetch(context.Background(), "k", nil, Options{}); err == nil {
		t.Fatalf("nil remote should fail")
	}
}

func TestValidators(t *testing.T) {
	if err := ValidateList(json.RawMessage(`{"page":1,"results":[]}`)); err != nil {
		t.Fatalf("list with empty results should pass: %v", err)
	}
	if err := ValidateList(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("bare array is not a list response")
	}
	if err := ValidateObject(json.RawMessage(`{"id":603,"title":"The Matrix"}`)); err != nil {
		t.Fatalf("object with id should pass: %v", err)
	}
	if err := ValidateObject(json.RawMessage(`{"success":false}`)); err == nil {
		t.Fatalf("object without id should fail")
	}
	if _, ok := ValidatorByName("bogus"); ok {
		t.Fatalf("unknown validator name should not resolve")
	}
}

func TestFetchJoinedCallerFallsBackWithOwnContext(t *testing.T) {
	store := cache.NewMemoryStore()
	store.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	if err := store.Set(context.Background(), "trending_movies", json.RawMessage(`{"results":["old"]}`), time.Hour); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	store.SetClock(time.Now)
	orch := NewOrchestrator(store, nil)

	started := make(chan struct{})
	var calls atomic.Int32
	remote := func(ctx context.Context) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, errors.New("upstream unavailable")
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Fetch(firstCtx, "trending_movies", remote, Options{TTL: time.Hour})
		firstDone <- err
	}()
	<-started

	type outcome struct {
		res *Result
		err error
	}
	secondDone := make(chan outcome, 1)
	go func() {
		res, err := orch.Fetch(context.Background(), "trending_movies", remote, Options{TTL: time.Hour})
		secondDone <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-firstDone; err == nil {
		t.Fatalf("cancelled caller should get an error")
	}
	second := <-secondDone
	if second.err != nil {
		t.Fatalf("live caller should get the stale entry, got %v", second.err)
	}
	if !second.res.Stale() || string(second.res.Payload) != `{"results":["old"]}` {
		t.Fatalf("expected stale fallback, got %s %s", second.res.Source, second.res.Payload)
	}
	if calls.Load() != 2 {
		t.Fatalf("live caller should retry upstream once with its own context, got %d calls", calls.Load())
	}
}

func TestFetchJoinedCallerRetriesWhenLeaderCancelled(t *testing.T) {
	orch := NewOrchestrator(cache.NewMemoryStore(), nil)

	started := make(chan struct{})
	var calls atomic.Int32
	remote := func(ctx context.Context) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`{"results":["fresh"]}`), nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = orch.Fetch(firstCtx, "horror_movies", remote, Options{TTL: time.Hour})
	}()
	<-started

	done := make(chan *Result, 1)
	errs := make(chan error, 1)
	go func() {
		res, err := orch.Fetch(context.Background(), "horror_movies", remote, Options{TTL: time.Hour})
		done <- res
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	res := <-done
	if err := <-errs; err != nil {
		t.Fatalf("live caller should not inherit the cancellation: %v", err)
	}
	if res.Source != SourceRemote || string(res.Payload) != `{"results":["fresh"]}` {
		t.Fatalf("expected remote payload after retry, got %s %s", res.Source, res.Payload)
	}
}

type failingSetStore struct {
	*cache.MemoryStore
}

func (failingSetStore) Set(context.Context, string, json.RawMessage, time.Duration) error {
	return errors.New("disk full")
}

func TestFetchReturnsPayloadWhenCacheWriteFails(t *testing.T) {
	orch := NewOrchestrator(failingSetStore{cache.NewMemoryStore()}, nil)
	remote := &remoteStub{payload: json.RawMessage(`{"results":[7]}`)}

	res, err := orch.Fetch(context.Background(), "documentaries", remote.call, Options{TTL: time.Hour})
	if err != nil {
		t.Fatalf("write failure must not fail the fetch: %v", err)
	}
	if res.Source != SourceRemote || string(res.Payload) != `{"results":[7]}` {
		t.Fatalf("expected remote payload, got %s %s", res.Source, res.Payload)
	}
}
