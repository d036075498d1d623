package sequencer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"go2tv.app/lgremote/internal/domain"
)

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventCancel   = "cancel"
	eventFail     = "fail"
)

func newRunMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(domain.RunNotStarted),
		fsm.Events{
			{Name: eventStart, Src: []string{string(domain.RunNotStarted)}, Dst: string(domain.RunRunning)},
			{Name: eventComplete, Src: []string{string(domain.RunRunning)}, Dst: string(domain.RunCompleted)},
			{Name: eventCancel, Src: []string{string(domain.RunNotStarted), string(domain.RunRunning)}, Dst: string(domain.RunCancelled)},
			{Name: eventFail, Src: []string{string(domain.RunRunning)}, Dst: string(domain.RunFailed)},
		},
		fsm.Callbacks{},
	)
}

// Run is one pass over a playlist. Items are copied at start and never change.
type Run struct {
	id    string
	kind  domain.RunKind
	items []domain.PlaylistItem

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	machine *fsm.FSM

	mu       sync.Mutex
	position int
	err      error
	stopOnce sync.Once
}

func newRun(kind domain.RunKind, items []domain.PlaylistItem) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	copied := make([]domain.PlaylistItem, len(items))
	copy(copied, items)
	return &Run{
		id:      uuid.NewString(),
		kind:    kind,
		items:   copied,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		machine: newRunMachine(),
	}
}

func (r *Run) ID() string { return r.id }

func (r *Run) Kind() domain.RunKind { return r.kind }

func (r *Run) Status() domain.RunStatus {
	return domain.RunStatus(r.machine.Current())
}

// Done is closed after the run's cleanup has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Position is the 1-based index of the item in progress, 0 before the first.
func (r *Run) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Err returns the failure that ended the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run is done or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) Snapshot() domain.RunSnapshot {
	snapshot := domain.RunSnapshot{
		ID:       r.id,
		Kind:     r.kind,
		Status:   r.Status(),
		Position: r.Position(),
		Total:    len(r.items),
	}
	if err := r.Err(); err != nil {
		snapshot.Error = err.Error()
	}
	return snapshot
}

func (r *Run) setPosition(position int) {
	r.mu.Lock()
	r.position = position
	r.mu.Unlock()
}

func (r *Run) fire(event string) {
	_ = r.machine.Event(context.Background(), event)
}
