package deck

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cheryl9/grantdeck/internal/filter"
	"github.com/cheryl9/grantdeck/internal/ingest"
	"github.com/cheryl9/grantdeck/internal/models"
	"github.com/google/uuid"
)

type stubSource struct {
	raws []ingest.RawGrant
	err  error
}

func (s *stubSource) Candidates(ctx context.Context) ([]ingest.RawGrant, error) {
	return s.raws, s.err
}

type stubRecorder struct {
	mu       sync.Mutex
	decided  []string
	fetchErr error
	writeErr error
	writes   []models.Decision
	wrote    chan struct{}
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{wrote: make(chan struct{}, 16)}
}

func (r *stubRecorder) RecordDecision(ctx context.Context, d models.Decision) error {
	r.mu.Lock()
	r.writes = append(r.writes, d)
	r.mu.Unlock()
	r.wrote <- struct{}{}
	return r.writeErr
}

func (r *stubRecorder) DecidedGrantIDs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return r.decided, r.fetchErr
}

func (r *stubRecorder) waitWrites(t *testing.T, n int) []models.Decision {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.wrote:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for decision write %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Decision(nil), r.writes...)
}

func raw(id string) ingest.RawGrant {
	return ingest.RawGrant{ID: id, Title: "Grant " + id, SourceURL: "https://grants.test/" + id}
}

func newReadyController(t *testing.T, recorder *stubRecorder, ids ...string) *Controller {
	t.Helper()
	raws := make([]ingest.RawGrant, 0, len(ids))
	for _, id := range ids {
		raws = append(raws, raw(id))
	}
	c := New(uuid.New(), &stubSource{raws: raws}, recorder, filter.NewCriteria())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func TestSwipeSequence(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a", "b", "c")

	if err := c.Decide(context.Background(), models.DirectionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := c.Decide(context.Background(), models.DirectionReject); err != nil {
		t.Fatalf("reject: %v", err)
	}

	head, ok := c.CurrentHead()
	if !ok {
		t.Fatal("expected a head after two decisions on three candidates")
	}
	if head.ID != "c" {
		t.Errorf("expected head c, got %s", head.ID)
	}
	if got := c.Accepted(); got != 1 {
		t.Errorf("expected accepted count 1, got %d", got)
	}
	if got := c.Snapshot().Decided; got != 2 {
		t.Errorf("expected 2 decided, got %d", got)
	}

	writes := recorder.waitWrites(t, 2)
	byGrant := make(map[string]models.Decision, len(writes))
	for _, d := range writes {
		byGrant[d.GrantID] = d
	}
	if d, ok := byGrant["a"]; !ok || d.Direction != models.DirectionAccept {
		t.Errorf("expected accept write for a, got %+v", byGrant["a"])
	}
	if d, ok := byGrant["b"]; !ok || d.Direction != models.DirectionReject {
		t.Errorf("expected reject write for b, got %+v", byGrant["b"])
	}
}

func TestDeckExhaustion(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a", "b", "c")

	for i := 0; i < 3; i++ {
		if err := c.Decide(context.Background(), models.DirectionReject); err != nil {
			t.Fatalf("decide %d: %v", i+1, err)
		}
	}

	if got := c.State(); got != StateExhausted {
		t.Errorf("expected exhausted, got %s", got)
	}
	if _, ok := c.CurrentHead(); ok {
		t.Error("expected no head when exhausted")
	}
	if err := c.Decide(context.Background(), models.DirectionAccept); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	recorder.waitWrites(t, 3)
}

func TestDecideBeforeLoad(t *testing.T) {
	c := New(uuid.New(), &stubSource{}, newStubRecorder(), filter.NewCriteria())
	if err := c.Decide(context.Background(), models.DirectionAccept); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady while loading, got %v", err)
	}
}

func TestDecideRejectsUnknownDirection(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a")
	if err := c.Decide(context.Background(), models.Direction("maybe")); err == nil {
		t.Fatal("expected error for unknown direction")
	}
	if got := c.Remaining(); got != 1 {
		t.Errorf("expected queue untouched, got %d remaining", got)
	}
}

func TestDecidedSetExclusion(t *testing.T) {
	recorder := newStubRecorder()
	recorder.decided = []string{"x"}
	c := New(uuid.New(), &stubSource{raws: []ingest.RawGrant{raw("x"), raw("y")}}, recorder, filter.NewCriteria())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := c.Remaining(); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	head, ok := c.CurrentHead()
	if !ok || head.ID != "y" {
		t.Errorf("expected head y, got %v %v", head.ID, ok)
	}
}

func TestQueueOrderPreserved(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "first", "second", "third")

	for _, want := range []string{"first", "second", "third"} {
		head, ok := c.CurrentHead()
		if !ok {
			t.Fatalf("expected head %s, deck not ready", want)
		}
		if head.ID != want {
			t.Errorf("expected head %s, got %s", want, head.ID)
		}
		if err := c.Decide(context.Background(), models.DirectionReject); err != nil {
			t.Fatalf("decide: %v", err)
		}
	}
	recorder.waitWrites(t, 3)
}

func TestLoadCandidatesKeepsDuplicateIdentifiers(t *testing.T) {
	c := New(uuid.New(), &stubSource{}, newStubRecorder(), filter.NewCriteria())
	c.LoadCandidates([]ingest.RawGrant{raw("dup"), raw("dup")}, nil)
	if got := c.Remaining(); got != 2 {
		t.Errorf("expected both records queued, got %d", got)
	}
}

func TestLoadCandidateFetchFailure(t *testing.T) {
	c := New(uuid.New(), &stubSource{err: errors.New("boom")}, newStubRecorder(), filter.NewCriteria())
	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}

	if got := c.State(); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}
	if _, ok := c.CurrentHead(); ok {
		t.Error("expected no head in error state")
	}
	if c.Err() == nil {
		t.Error("expected retained load error")
	}
}

func TestLoadDecidedFetchFailure(t *testing.T) {
	recorder := newStubRecorder()
	recorder.fetchErr = errors.New("boom")
	c := New(uuid.New(), &stubSource{raws: []ingest.RawGrant{raw("a")}}, recorder, filter.NewCriteria())
	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if got := c.State(); got != StateError {
		t.Errorf("expected error state, got %s", got)
	}
	if got := c.Remaining(); got != 0 {
		t.Errorf("expected no partial queue, got %d", got)
	}
}

func TestFailedWriteKeepsLocalState(t *testing.T) {
	recorder := newStubRecorder()
	recorder.writeErr = errors.New("store down")
	c := newReadyController(t, recorder, "a", "b")

	if err := c.Decide(context.Background(), models.DirectionAccept); err != nil {
		t.Fatalf("decide: %v", err)
	}
	recorder.waitWrites(t, 1)

	head, ok := c.CurrentHead()
	if !ok || head.ID != "b" {
		t.Errorf("expected deck advanced to b despite failed write, got %v %v", head.ID, ok)
	}
	if got := c.Accepted(); got != 1 {
		t.Errorf("expected accepted count kept, got %d", got)
	}
	if got := c.State(); got != StateReady {
		t.Errorf("expected ready, got %s", got)
	}
}

func TestSetCriteriaRefilters(t *testing.T) {
	health := raw("h1")
	health.Profile = &ingest.GrantProfile{IssueAreas: []string{"health"}}
	youth := raw("y1")
	youth.Profile = &ingest.GrantProfile{IssueAreas: []string{"youth"}}

	recorder := newStubRecorder()
	c := New(uuid.New(), &stubSource{raws: []ingest.RawGrant{health, youth}}, recorder, filter.NewCriteria())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Remaining(); got != 2 {
		t.Fatalf("expected 2 queued, got %d", got)
	}

	if err := c.Decide(context.Background(), models.DirectionAccept); err != nil {
		t.Fatalf("decide: %v", err)
	}
	recorder.waitWrites(t, 1)

	criteria := filter.NewCriteria()
	criteria.IssueAreas = []string{"youth"}
	if err := c.SetCriteria(context.Background(), criteria); err != nil {
		t.Fatalf("set criteria: %v", err)
	}

	head, ok := c.CurrentHead()
	if !ok || head.ID != "y1" {
		t.Errorf("expected refiltered head y1, got %v %v", head.ID, ok)
	}
	if got := c.Accepted(); got != 1 {
		t.Errorf("expected accepted count to survive criteria change, got %d", got)
	}
}

func TestSetCriteriaKeepsDecidedExcluded(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a", "b")

	if err := c.Decide(context.Background(), models.DirectionReject); err != nil {
		t.Fatalf("decide: %v", err)
	}
	recorder.waitWrites(t, 1)

	// Same unconstrained criteria; the reload refetches both records but the
	// locally decided identifier must not reappear.
	if err := c.SetCriteria(context.Background(), filter.NewCriteria()); err != nil {
		t.Fatalf("set criteria: %v", err)
	}

	if got := c.Remaining(); got != 1 {
		t.Fatalf("expected 1 remaining after reload, got %d", got)
	}
	head, _ := c.CurrentHead()
	if head.ID != "b" {
		t.Errorf("expected head b, got %s", head.ID)
	}
}

func TestRestartResetsSession(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a", "b")

	if err := c.Decide(context.Background(), models.DirectionAccept); err != nil {
		t.Fatalf("decide: %v", err)
	}
	recorder.waitWrites(t, 1)

	if err := c.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if got := c.Accepted(); got != 0 {
		t.Errorf("expected accepted count reset, got %d", got)
	}
	if got := c.Remaining(); got != 2 {
		t.Errorf("expected full queue after restart, got %d", got)
	}
	head, _ := c.CurrentHead()
	if head.ID != "a" {
		t.Errorf("expected head a after restart, got %s", head.ID)
	}
}

func TestExhaustedRecoversOnReload(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "only")

	if err := c.Decide(context.Background(), models.DirectionReject); err != nil {
		t.Fatalf("decide: %v", err)
	}
	recorder.waitWrites(t, 1)
	if got := c.State(); got != StateExhausted {
		t.Fatalf("expected exhausted, got %s", got)
	}

	if err := c.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := c.State(); got != StateReady {
		t.Errorf("expected ready after restart, got %s", got)
	}
}

func TestSnapshot(t *testing.T) {
	recorder := newStubRecorder()
	c := newReadyController(t, recorder, "a", "b")

	s := c.Snapshot()
	if s.State != StateReady {
		t.Errorf("expected ready, got %s", s.State)
	}
	if s.Head == nil || s.Head.ID != "a" {
		t.Errorf("expected head a in snapshot, got %+v", s.Head)
	}
	if s.Remaining != 2 || s.Accepted != 0 {
		t.Errorf("unexpected counters: %+v", s)
	}
}
