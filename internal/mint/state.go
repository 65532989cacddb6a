package mint

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pders01/truthmint/internal/errors"
	"github.com/pders01/truthmint/internal/metrics"
)

// State is a step of the confirm transaction.
type State string

const (
	StateIdle            State = "idle"
	StateDraftPending    State = "draft-pending"
	StateVerifyingPre    State = "verifying-pre"
	StateBackingUp       State = "backing-up"
	StateAppending       State = "appending"
	StateRebuildingIndex State = "rebuilding-index"
	StatePackaging       State = "packaging"
	StateVerifyingPost   State = "verifying-post"
	StateLocked          State = "locked"
	StateRolledBack      State = "rolled-back"
)

// transitions lists the legal successors of each state. Failing before
// Appending returns to DraftPending with nothing changed; failing at or after
// it rolls back.
var transitions = map[State][]State{
	StateIdle:            {StateDraftPending},
	StateDraftPending:    {StateIdle, StateVerifyingPre},
	StateVerifyingPre:    {StateBackingUp, StateDraftPending},
	StateBackingUp:       {StateAppending, StateDraftPending},
	StateAppending:       {StateRebuildingIndex, StateRolledBack},
	StateRebuildingIndex: {StatePackaging, StateRolledBack},
	StatePackaging:       {StateVerifyingPost, StateRolledBack},
	StateVerifyingPost:   {StateLocked, StateRolledBack},
}

// CanTransition reports whether next may follow from.
func CanTransition(from, next State) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// machine tracks one transaction's state and times its steps.
type machine struct {
	state   State
	entered time.Time
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newMachine(start State, now func() time.Time, logger *slog.Logger, m *metrics.Metrics) *machine {
	return &machine{state: start, entered: now(), now: now, logger: logger, metrics: m}
}

// to moves to next. An illegal transition is a programming error and fails
// as E_TRANSACTION without changing state.
func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return errors.AtStep(string(m.state), fmt.Sprintf("illegal transition %s -> %s", m.state, next), nil)
	}
	t := m.now()
	m.metrics.ObserveStep(string(m.state), t.Sub(m.entered).Seconds())
	m.logger.Debug("transition", "from", m.state, "to", next)
	m.state, m.entered = next, t
	return nil
}
