// Package engine is the transaction executor: it validates a batch of
// mutation commands, runs them against the graph under the store's write
// lock, and either commits all of them or restores the pre-transaction
// snapshot.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeforge/internal/graph"
	"github.com/rendis/nodeforge/internal/logging"
	"github.com/rendis/nodeforge/internal/metrics"
	"github.com/rendis/nodeforge/internal/refs"
	"github.com/rendis/nodeforge/internal/validation"
	"github.com/rendis/nodeforge/pkg/schema"
)

// Config tunes the executor.
type Config struct {
	MaxCommands int
	UndoDepth   int
}

// Deps are the executor's collaborators. Store and Schemas are required.
type Deps struct {
	Store   *graph.Store
	Schemas *validation.SchemaValidator
	Events  EventAppender
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Executor runs transactions against one document.
type Executor struct {
	store   *graph.Store
	schemas *validation.SchemaValidator
	decoder *Decoder
	fsm     *TxFSM
	events  EventAppender
	history *History
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates an Executor.
func New(deps Deps, cfg Config) *Executor {
	return &Executor{
		store:   deps.Store,
		schemas: deps.Schemas,
		decoder: NewDecoder(deps.Schemas, cfg.MaxCommands),
		fsm:     NewTxFSM(deps.Events),
		events:  deps.Events,
		history: NewHistory(cfg.UndoDepth),
		metrics: deps.Metrics,
		logger:  logging.OrDefault(deps.Logger),
	}
}

// Store returns the graph store the executor writes to.
func (e *Executor) Store() *graph.Store { return e.store }

// History returns the undo history.
func (e *Executor) History() *History { return e.history }

// Decoder returns the command decoder.
func (e *Executor) Decoder() *Decoder { return e.decoder }

// FSM returns the transaction state machine, for registering hooks.
func (e *Executor) FSM() *TxFSM { return e.fsm }

// ExecOptions controls one Execute call.
type ExecOptions struct {
	// SkipValidation skips JSON Schema checks. The allow-list still applies.
	SkipValidation bool
	// DryRun executes and then always restores the snapshot.
	DryRun bool
	// Label names the transaction in the undo history. Defaults to the tools.
	Label string
}

// CommandResult is the outcome of one committed command.
type CommandResult struct {
	Index  int            `json:"index"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Result any            `json:"result"`
}

// Summary counts entity changes made by a transaction.
type Summary = graph.ChangeSet

// Result describes a finished transaction. On failure FailedIndex and
// FailedTool locate the command that stopped it.
type Result struct {
	TxID        string                   `json:"tx_id"`
	State       schema.TxState           `json:"state"`
	DryRun      bool                     `json:"dry_run,omitempty"`
	Results     []CommandResult          `json:"results"`
	Summary     Summary                  `json:"summary"`
	Refs        map[string]int           `json:"refs"`
	Revision    uint64                   `json:"revision"`
	FailedIndex *int                     `json:"failed_index,omitempty"`
	FailedTool  string                   `json:"failed_tool,omitempty"`
	Validation  *schema.ValidationResult `json:"validation,omitempty"`
	Duration    time.Duration            `json:"-"`
}

// Committed reports whether the transaction's changes are in the document.
func (r *Result) Committed() bool { return r.State == schema.TxCommitted && !r.DryRun }

// RolledBack reports whether the document was restored.
func (r *Result) RolledBack() bool { return r.State == schema.TxRolledBack }

// Envelope renders the result in the uniform response shape. err is the
// error returned alongside the result, if any.
func (r *Result) Envelope(err error) schema.Envelope {
	fields := map[string]any{
		"tx_id":       r.TxID,
		"rolled_back": r.RolledBack(),
	}
	if err != nil {
		env := schema.Failure(err).With(fields)
		if r.FailedIndex != nil {
			env["failed_index"] = *r.FailedIndex
			env["failed_tool"] = r.FailedTool
		}
		if r.Validation != nil && len(r.Validation.Errors) > 0 {
			env["validation_errors"] = r.Validation.Errors
		}
		return env
	}
	fields["results"] = r.Results
	fields["summary"] = r.Summary
	fields["refs"] = r.Refs
	fields["revision"] = r.Revision
	if r.DryRun {
		fields["dry_run"] = true
	}
	return schema.Success(fields)
}

// Validate checks a batch without executing it. Beyond the per-command
// checks it follows $refs through the batch and looks up created types.
func (e *Executor) Validate(cmds []RawCommand) *schema.ValidationResult {
	decoded, res := e.decoder.Validate(cmds)
	if !res.Valid() {
		return res
	}
	res.Merge(checkSemantic(decoded, e.store.Registry()))
	return res
}

// Execute runs cmds as one atomic transaction. The returned Result is never
// nil. A non-nil error means nothing was committed.
func (e *Executor) Execute(ctx context.Context, cmds []RawCommand, opts ExecOptions) (*Result, error) {
	start := time.Now()
	tx := &Tx{ID: uuid.NewString(), State: schema.TxValidating, DryRun: opts.DryRun}
	ctx = logging.WithTxID(ctx, tx.ID)
	log := logging.LogWith(ctx, e.logger)
	res := &Result{TxID: tx.ID, State: tx.State, DryRun: opts.DryRun, Refs: map[string]int{}}

	decoded, err := e.prepare(cmds, opts.SkipValidation, res)
	if err != nil {
		log.Info("transaction rejected", "commands", len(cmds), "error", err)
		e.finish(ctx, tx, res, schema.TxRolledBack, err, start, len(cmds))
		return res, err
	}
	if err := e.fsm.Transition(ctx, tx, schema.TxExecuting, nil); err != nil {
		return res, err
	}
	res.State = tx.State

	execErr := e.store.Write(func(g *graph.Graph) error {
		before := g.Serialize()
		rev := g.Revision()
		g.ResetChanges()
		tbl := refs.NewTable()

		for _, dc := range decoded {
			out, err := e.run(ctx, g, tbl, dc)
			e.metrics.ObserveCommand(dc.Tool, err)
			if err != nil {
				g.Rollback(before, rev)
				idx := dc.Index
				res.FailedIndex, res.FailedTool = &idx, dc.Tool
				res.Results = nil
				log.Warn("transaction rolled back", "failed_index", idx, "failed_tool", dc.Tool, "error", err)
				return schema.AsGraphError(err).
					WithDetails(map[string]any{"failed_index": idx, "failed_tool": dc.Tool})
			}
			res.Results = append(res.Results, *out)
			log.Debug("command applied", "index", dc.Index, "tool", dc.Tool)
		}

		res.Summary = g.Changes()
		res.Refs = tbl.Bindings()
		if opts.DryRun {
			g.Rollback(before, rev)
		} else if g.Revision() != rev {
			e.history.Push(before, label(opts.Label, decoded))
		}
		res.Revision = g.Revision()
		e.publishSize(g)
		return nil
	})

	if execErr != nil {
		e.finish(ctx, tx, res, schema.TxRolledBack, execErr, start, len(decoded))
		return res, execErr
	}
	to := schema.TxCommitted
	if opts.DryRun {
		to = schema.TxRolledBack
	}
	if err := e.finish(ctx, tx, res, to, nil, start, len(decoded)); err != nil {
		// The document is committed; a failed event sink only gets logged.
		log.Error("transaction event not recorded", "error", err)
	}
	log.Info("transaction finished", "state", res.State, "commands", len(decoded), "dry_run", opts.DryRun,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// prepare validates and decodes the batch. Validation errors are collected
// into res.Validation.
func (e *Executor) prepare(cmds []RawCommand, skip bool, res *Result) ([]*Decoded, error) {
	if skip {
		if len(cmds) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidationFailed, "commands must not be empty")
		}
		if len(cmds) > e.decoder.MaxCommands() {
			return nil, schema.NewErrorf(schema.ErrCodeValidationFailed, "too many commands: %d (max %d)",
				len(cmds), e.decoder.MaxCommands())
		}
		return e.decoder.DecodeUnchecked(cmds)
	}
	decoded, vr := e.decoder.Validate(cmds)
	if !vr.Valid() {
		res.Validation = vr
		return nil, vr.ToError()
	}
	return decoded, nil
}

// run resolves the command's parameters for the record and dispatches it.
func (e *Executor) run(ctx context.Context, g *graph.Graph, tbl *refs.Table, dc *Decoded) (*CommandResult, error) {
	resolved, err := tbl.ResolveParameters(dc.Params)
	if err != nil {
		return nil, err
	}
	out, err := dispatch(logging.WithTool(ctx, dc.Tool), g, tbl, dc.Command)
	if err != nil {
		return nil, err
	}
	return &CommandResult{Index: dc.Index, Tool: dc.Tool, Params: resolved, Result: out}, nil
}

// finish moves tx into its terminal state and records metrics.
func (e *Executor) finish(ctx context.Context, tx *Tx, res *Result, to schema.TxState, cause error, start time.Time, n int) error {
	res.Duration = time.Since(start)
	payload := map[string]any{
		"commands":    n,
		"duration_ms": res.Duration.Milliseconds(),
	}
	var outcome string
	switch {
	case tx.DryRun && cause == nil:
		outcome = metrics.OutcomeDryRun
		payload["summary"] = res.Summary
	case cause == nil:
		outcome = metrics.OutcomeCommitted
		payload["summary"] = res.Summary
		payload["revision"] = res.Revision
		if len(res.Refs) > 0 {
			payload["refs"] = res.Refs
		}
	case tx.State == schema.TxValidating:
		outcome = metrics.OutcomeRejected
		payload["error"] = schema.AsGraphError(cause).Message
	default:
		outcome = metrics.OutcomeRolledBack
		payload["error"] = schema.AsGraphError(cause).Message
		if res.FailedIndex != nil {
			payload["failed_index"] = *res.FailedIndex
			payload["failed_tool"] = res.FailedTool
		}
	}
	e.metrics.ObserveTransaction(outcome, n, res.Duration)

	err := e.fsm.Transition(ctx, tx, to, payload)
	res.State = to
	return err
}

func (e *Executor) publishSize(g *graph.Graph) {
	e.metrics.SetDocument(g.NodeCount(), g.LinkCount(), len(g.Groups()), g.Revision())
}

func label(explicit string, decoded []*Decoded) string {
	if explicit != "" {
		return explicit
	}
	if len(decoded) == 1 {
		return decoded[0].Tool
	}
	seen := map[string]bool{}
	var tools []string
	for _, dc := range decoded {
		if !seen[dc.Tool] {
			seen[dc.Tool] = true
			tools = append(tools, dc.Tool)
		}
	}
	out := "batch:"
	for i, t := range tools {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
