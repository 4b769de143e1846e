package engine

import (
	"context"
	"errors"

	"github.com/mnorrsken/memkeys/internal/handler"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ErrTxAborted is returned by Watch when a watched key changed before the
// transaction ran. Nothing was applied.
var ErrTxAborted = storage.ErrTxAborted

// ErrExecAbort is returned when a queued command was rejected (unknown
// command, wrong arity). Nothing was applied.
var ErrExecAbort = errors.New("EXECABORT Transaction discarded because of previous errors.")

// ReplyError is an error reply, such as WRONGTYPE or a syntax error.
type ReplyError string

func (e ReplyError) Error() string { return string(e) }

// Result is the outcome of one batched command.
type Result struct {
	Name  string
	Args  []string
	Reply resp.Value
}

// Err returns the reply as a ReplyError when the command failed.
func (r Result) Err() error {
	if r.Reply.IsError() {
		return ReplyError(r.Reply.Str)
	}
	return nil
}

// firstError returns the error of the first failed result, if any.
func firstError(results []Result) error {
	for _, r := range results {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Pipeline collects commands for Pipelined.
type Pipeline struct {
	calls []handler.Call
}

// Do queues a command.
func (p *Pipeline) Do(name string, args ...string) {
	p.calls = append(p.calls, handler.Call{Name: name, Args: args})
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	return len(p.calls)
}

// Pipelined runs the commands fn queues, in order, each on its own. Other
// callers may run between them and a failing command does not stop the
// rest. The queue is flushed even when fn fails or panics; a panic is
// re-raised after the flush. If fn succeeds the error of the first failed
// command is returned alongside all results.
func (e *Engine) Pipelined(ctx context.Context, fn func(p *Pipeline) error) (results []Result, err error) {
	p := &Pipeline{}
	defer func() {
		results = make([]Result, len(p.calls))
		for i, c := range p.calls {
			results[i] = Result{Name: c.Name, Args: c.Args, Reply: e.handler.Execute(ctx, c.Name, c.Args...)}
		}
		if err == nil {
			err = firstError(results)
		}
	}()
	err = fn(p)
	return results, err
}

// Tx collects commands for an atomic transaction. Reads made through Get
// run immediately, which is how a Watch callback inspects watched keys.
type Tx struct {
	e      *Engine
	ctx    context.Context
	calls  []handler.Call
	failed error
}

// Get runs a command right away, outside the transaction.
func (tx *Tx) Get(name string, args ...string) resp.Value {
	return tx.e.handler.Execute(tx.ctx, name, args...)
}

// Do queues a command. An unknown command or a wrong argument count
// poisons the transaction: committing it returns ErrExecAbort.
func (tx *Tx) Do(name string, args ...string) {
	if reply, ok := handler.CheckQueued(name, args); !ok && tx.failed == nil {
		tx.failed = ReplyError(reply.Str)
	}
	tx.calls = append(tx.calls, handler.Call{Name: name, Args: args})
}

// TxPipelined runs the commands fn queues as one atomic transaction.
func (e *Engine) TxPipelined(ctx context.Context, fn func(tx *Tx) error) ([]Result, error) {
	return e.Watch(ctx, fn)
}

// Watch watches keys, then runs fn and commits what it queued. If any
// watched key changed in the meantime nothing is applied and ErrTxAborted is
// returned. When fn returns an error or panics the transaction is dropped.
// A command failing at run time does not roll back the others; its error is
// returned with the results.
func (e *Engine) Watch(ctx context.Context, fn func(tx *Tx) error, keys ...string) ([]Result, error) {
	var ws storage.WatchSet
	if len(keys) > 0 {
		ws = e.store.Watch(keys...)
		defer e.store.Unwatch(ws)
	}

	tx := &Tx{e: e, ctx: ctx}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if tx.failed != nil {
		return nil, errors.Join(ErrExecAbort, tx.failed)
	}
	if len(tx.calls) == 0 {
		return nil, nil
	}

	replies, err := e.handler.ExecBatch(ctx, ws, tx.calls)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(replies))
	for i, c := range tx.calls {
		results[i] = Result{Name: c.Name, Args: c.Args, Reply: replies[i]}
	}
	return results, firstError(results)
}
