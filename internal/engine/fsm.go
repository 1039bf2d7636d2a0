package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.TxState) error

// EventAppender is satisfied by the event hub and the journal; the FSM emits
// an event through it when a transaction reaches a terminal state.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.Event) error
}

// Appenders fans one event out to several sinks. Every sink is tried; the
// errors are joined.
type Appenders []EventAppender

func (a Appenders) AppendEvent(ctx context.Context, event *schema.Event) error {
	var errs []error
	for _, sink := range a {
		if sink == nil {
			continue
		}
		if err := sink.AppendEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidTxTransitions defines the allowed transaction state transitions.
var ValidTxTransitions = map[schema.TxState][]schema.TxState{
	schema.TxValidating: {schema.TxExecuting, schema.TxRolledBack},
	schema.TxExecuting:  {schema.TxCommitted, schema.TxRolledBack},
	schema.TxCommitted:  {},
	schema.TxRolledBack: {},
}

type txHookKey struct {
	from, to schema.TxState
}

// TxFSM validates transaction lifecycle transitions, runs hooks and emits
// terminal events.
type TxFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[txHookKey][]TransitionHook
	after    map[txHookKey][]TransitionHook
}

// NewTxFSM creates a TxFSM that emits events via appender. A nil appender
// disables emission.
func NewTxFSM(appender EventAppender) *TxFSM {
	return &TxFSM{
		appender: appender,
		before:   make(map[txHookKey][]TransitionHook),
		after:    make(map[txHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *TxFSM) OnBefore(from, to schema.TxState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := txHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *TxFSM) OnAfter(from, to schema.TxState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := txHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Tx is the state of one transaction as it moves through the FSM.
type Tx struct {
	ID     string
	State  schema.TxState
	DryRun bool
}

// Transition moves tx to the next state. Entering a terminal state emits
// tx_committed, tx_rolled_back or tx_dry_run with payload.
func (f *TxFSM) Transition(ctx context.Context, tx *Tx, to schema.TxState, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := tx.State
	if !IsValidTxTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInternal, "invalid transaction transition: %s -> %s", from, to).
			WithDetails(map[string]any{"tx_id": tx.ID, "from": string(from), "to": string(to)})
	}

	key := txHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	tx.State = to

	if eventType := txEventType(to, tx.DryRun); eventType != "" && f.appender != nil {
		event := &schema.Event{
			Type:      eventType,
			TxID:      tx.ID,
			SessionID: logging.SessionID(ctx),
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit transaction event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTxTransition reports whether the table allows from -> to.
func IsValidTxTransition(from, to schema.TxState) bool {
	allowed, ok := ValidTxTransitions[from]
	return ok && slices.Contains(allowed, to)
}

func txEventType(to schema.TxState, dryRun bool) string {
	switch {
	case dryRun && (to == schema.TxCommitted || to == schema.TxRolledBack):
		return schema.EventTxDryRun
	case to == schema.TxCommitted:
		return schema.EventTxCommitted
	case to == schema.TxRolledBack:
		return schema.EventTxRolledBack
	default:
		return ""
	}
}
