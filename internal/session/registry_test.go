package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atl-live/backend/internal/models"
)

type fakeSource struct {
	mu         sync.Mutex
	activities map[string]*models.Activity
	loads      int
}

func (f *fakeSource) GetByID(ctx context.Context, activityID string) (*models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	a, ok := f.activities[activityID]
	if !ok {
		return nil, errors.New("activity not found")
	}
	return a, nil
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *fakeBroadcaster, *fakeSource, *[]*models.SessionArchive) {
	t.Helper()
	source := &fakeSource{activities: map[string]*models.Activity{"act-1": testActivity()}}
	bcast := &fakeBroadcaster{}
	var archives []*models.SessionArchive
	sink := func(a *models.SessionArchive) { archives = append(archives, a) }
	r := NewRegistry(source, bcast, sink, cfg, nil)
	t.Cleanup(r.Close)
	return r, bcast, source, &archives
}

func TestGetOrCreateReuses(t *testing.T) {
	r, _, source, _ := newTestRegistry(t, Config{})
	ctx := context.Background()

	s1, err := r.GetOrCreate(ctx, "act-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := r.GetOrCreate(ctx, "act-1")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if s1 != s2 {
		t.Error("expected the same session instance")
	}
	if source.loads != 1 {
		t.Errorf("expected a single template load, got %d", source.loads)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 live session, got %d", r.Count())
	}

	if _, err := r.GetOrCreate(ctx, "missing"); err == nil {
		t.Error("expected error for unknown activity")
	}
}

func TestGetRequiresLiveSession(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, Config{})

	if _, err := r.Get("act-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := r.GetOrCreate(context.Background(), "act-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Get("act-1"); err != nil {
		t.Errorf("get after create: %v", err)
	}
}

func TestEndRemovesAndArchives(t *testing.T) {
	r, _, _, archives := newTestRegistry(t, Config{})
	ctx := context.Background()

	s, err := r.GetOrCreate(ctx, "act-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Join("host-1", "Host", true, false); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := r.End("act-1", "p-not-host"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-host end: expected ErrForbidden, got %v", err)
	}
	if err := r.End("act-1", "host-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	if r.Count() != 0 {
		t.Errorf("expected session removed, got %d", r.Count())
	}
	if len(*archives) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(*archives))
	}
	if (*archives)[0].ActivityID != "act-1" {
		t.Errorf("archive activity: got %s", (*archives)[0].ActivityID)
	}

	if err := r.End("act-1", "host-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("end after removal: expected ErrSessionNotFound, got %v", err)
	}

	// A later poll starts a fresh run.
	s2, err := r.GetOrCreate(ctx, "act-1")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if s2 == s {
		t.Error("expected a fresh session after end")
	}
}

func TestIdleTeardown(t *testing.T) {
	r, _, _, archives := newTestRegistry(t, Config{IdleTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	s, err := r.GetOrCreate(ctx, "act-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Join("p1", "Alice", false, false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Leave("p1"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	r.sweep()

	if r.Count() != 0 {
		t.Errorf("expected idle session torn down, got %d live", r.Count())
	}
	if len(*archives) != 1 {
		t.Errorf("expected idle teardown to archive, got %d", len(*archives))
	}
}

func TestSweepSkipsActiveSessions(t *testing.T) {
	r, _, _, archives := newTestRegistry(t, Config{IdleTimeout: 30 * time.Millisecond})

	s, err := r.GetOrCreate(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Join("p1", "Alice", false, false); err != nil {
		t.Fatalf("join: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	r.sweep()

	if r.Count() != 1 {
		t.Errorf("session with connected participants must survive the sweep")
	}
	if len(*archives) != 0 {
		t.Errorf("expected no archives, got %d", len(*archives))
	}
}

func TestConcurrentSubmissionsSerialize(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, Config{})
	s, err := r.GetOrCreate(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Join("host-1", "Host", true, false); err != nil {
		t.Fatalf("join host: %v", err)
	}
	if _, err := s.Next("host-1"); err != nil {
		t.Fatalf("next: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		if _, err := s.Join(id, "P-"+id, false, false); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_ = s.Submit(pid, 0, "A", 1.0)
			// Duplicate from a concurrent retry must never double count.
			_ = s.Submit(pid, 0, "A", 1.0)
		}(id)
	}
	wg.Wait()

	results, err := s.Results(0, true)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if results.TotalResponses != n {
		t.Errorf("expected %d responses, got %d", n, results.TotalResponses)
	}
	if results.Options["A"].Count != n {
		t.Errorf("expected %d votes for A, got %d", n, results.Options["A"].Count)
	}
}
