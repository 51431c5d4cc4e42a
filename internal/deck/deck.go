package deck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cheryl9/grantdeck/internal/filter"
	"github.com/cheryl9/grantdeck/internal/ingest"
	"github.com/cheryl9/grantdeck/internal/models"
	"github.com/google/uuid"
)

// State is the deck lifecycle phase. Exhausted is terminal only for the
// current candidate set; a criteria change or restart returns to Loading.
type State int

const (
	StateLoading State = iota
	StateReady
	StateExhausted
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExhausted:
		return "exhausted"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotReady is returned by Decide when the deck has no head to decide on.
var ErrNotReady = errors.New("deck is not ready")

// decisionWriteTimeout bounds the fire-and-forget persistence write.
const decisionWriteTimeout = 10 * time.Second

// Source fetches the ordered candidate records for a session. Order is
// preserved all the way into the queue.
type Source interface {
	Candidates(ctx context.Context) ([]ingest.RawGrant, error)
}

// Recorder is the persistence collaborator: it durably records decisions and
// reports which grants the user already decided on.
type Recorder interface {
	RecordDecision(ctx context.Context, d models.Decision) error
	DecidedGrantIDs(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Controller sequences one user's swipe session: it owns the ordered queue of
// undecided candidates, exposes the head, and applies decisions. Queue
// mutation is synchronous under the lock; only the decision write leaves the
// request path. The queue never reorders once seeded.
type Controller struct {
	userID   uuid.UUID
	source   Source
	recorder Recorder

	mu       sync.Mutex
	state    State
	queue    []models.Grant
	accepted int
	decided  map[string]struct{}
	criteria filter.Criteria
	loadErr  error
}

// New constructs a controller in Loading state. Collaborators are fixed for
// the controller's lifetime.
func New(userID uuid.UUID, source Source, recorder Recorder, criteria filter.Criteria) *Controller {
	return &Controller{
		userID:   userID,
		source:   source,
		recorder: recorder,
		state:    StateLoading,
		decided:  make(map[string]struct{}),
		criteria: criteria,
	}
}

// Load runs one fetch-and-filter cycle: candidates and the already-decided
// set come from the collaborators, then LoadCandidates seeds the queue. If
// either fetch fails the deck lands in Error with no partial queue.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateLoading
	c.loadErr = nil
	c.mu.Unlock()

	raws, err := c.source.Candidates(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("fetch candidates: %w", err))
	}

	decidedIDs, err := c.recorder.DecidedGrantIDs(ctx, c.userID)
	if err != nil {
		return c.fail(fmt.Errorf("fetch decided set: %w", err))
	}

	c.LoadCandidates(raws, decidedIDs)
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateError
	c.queue = nil
	c.loadErr = err
	return err
}

// LoadCandidates normalizes the raw records, applies the current criteria,
// drops grants already decided, and seeds the queue in the input's order. No
// re-sorting, no content dedup; only identifier exclusion. Ends in Ready or,
// when nothing survives, Exhausted.
func (c *Controller) LoadCandidates(raws []ingest.RawGrant, decidedIDs []string) {
	grants := ingest.FromRawAll(raws)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decided == nil {
		c.decided = make(map[string]struct{})
	}
	for _, id := range decidedIDs {
		c.decided[id] = struct{}{}
	}

	visible := filter.Apply(grants, c.criteria)
	queue := make([]models.Grant, 0, len(visible))
	for _, g := range visible {
		if _, done := c.decided[g.ID]; done {
			continue
		}
		queue = append(queue, g)
	}

	c.queue = queue
	c.loadErr = nil
	if len(queue) == 0 {
		c.state = StateExhausted
	} else {
		c.state = StateReady
	}
}

// CurrentHead returns the head of the queue, or false when the deck is in
// Loading, Exhausted, or Error.
func (c *Controller) CurrentHead() (models.Grant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || len(c.queue) == 0 {
		return models.Grant{}, false
	}
	return c.queue[0], true
}

// Decide applies a decision to the head item: accept counts it as saved, both
// directions remove the head and add it to the decided set so it cannot
// reappear on a refetch. The queue mutation completes before the persistence
// write is even issued; the write itself runs detached from the request and a
// failure is logged, never rolled back. Requires Ready.
func (c *Controller) Decide(ctx context.Context, direction models.Direction) error {
	if !direction.Valid() {
		return fmt.Errorf("invalid direction %q", direction)
	}

	c.mu.Lock()
	if c.state != StateReady || len(c.queue) == 0 {
		c.mu.Unlock()
		return ErrNotReady
	}

	head := c.queue[0]
	c.queue = c.queue[1:]
	c.decided[head.ID] = struct{}{}
	if direction == models.DirectionAccept {
		c.accepted++
	}
	if len(c.queue) == 0 {
		c.state = StateExhausted
	}
	c.mu.Unlock()

	d := models.Decision{
		UserID:     c.userID,
		GrantID:    head.ID,
		Direction:  direction,
		MatchScore: head.MatchScore(),
		DecidedAt:  time.Now().UTC(),
	}
	go c.writeDecision(context.WithoutCancel(ctx), d)
	return nil
}

func (c *Controller) writeDecision(ctx context.Context, d models.Decision) {
	ctx, cancel := context.WithTimeout(ctx, decisionWriteTimeout)
	defer cancel()
	if err := c.recorder.RecordDecision(ctx, d); err != nil {
		log.Printf("[deck] decision write failed user=%s grant=%s: %v", d.UserID, d.GrantID, err)
	}
}

// SetCriteria replaces the criteria wholesale and reruns the fetch-and-filter
// cycle. The accepted count and the decided set survive a criteria change.
func (c *Controller) SetCriteria(ctx context.Context, criteria filter.Criteria) error {
	c.mu.Lock()
	c.criteria = criteria
	c.mu.Unlock()
	return c.Load(ctx)
}

// Restart starts the session over: accepted count zeroed, the local decided
// set dropped, then a fresh load. The decided set re-syncs from the recorder,
// which is the one point where an earlier failed write gets reconciled.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	c.accepted = 0
	c.decided = make(map[string]struct{})
	c.mu.Unlock()
	return c.Load(ctx)
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Criteria returns the criteria currently applied to the queue.
func (c *Controller) Criteria() filter.Criteria {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.criteria
}

// Accepted returns how many grants the user saved this session.
func (c *Controller) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Remaining returns how many candidates are still undecided.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Err returns the load error behind an Error state, nil otherwise.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

// Snapshot is a consistent read of the session for API responses.
type Snapshot struct {
	State     State
	Head      *models.Grant
	Remaining int
	Accepted  int
	Decided   int
	Err       error
}

// Snapshot captures state, head, and counters under one lock acquisition.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:     c.state,
		Remaining: len(c.queue),
		Accepted:  c.accepted,
		Decided:   len(c.decided),
		Err:       c.loadErr,
	}
	if c.state == StateReady && len(c.queue) > 0 {
		head := c.queue[0]
		s.Head = &head
	}
	return s
}
