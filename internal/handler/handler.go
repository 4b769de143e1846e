// Package handler implements Redis command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"

	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/notify"
	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// Version is reported by HELLO and INFO.
const Version = "1.0.0"

// Options configures a Handler. Nil fields get private defaults.
type Options struct {
	Password string
	Notifier *notify.Notifier
	Hub      *pubsub.Hub
	Logger   hclog.Logger
	RunID    string
}

// Handler processes Redis commands
type Handler struct {
	store     *storage.Store
	password  string
	notifier  *notify.Notifier
	hub       *pubsub.Hub
	logger    hclog.Logger
	scripts   *ScriptCache
	runID     string
	startTime time.Time
}

// Call is one command of a batch.
type Call struct {
	Name string
	Args []string
}

// New creates a new command handler
func New(store *storage.Store, opts Options) *Handler {
	h := &Handler{
		store:     store,
		password:  opts.Password,
		notifier:  opts.Notifier,
		hub:       opts.Hub,
		logger:    opts.Logger,
		scripts:   NewScriptCache(),
		runID:     opts.RunID,
		startTime: time.Now(),
	}
	if h.logger == nil {
		h.logger = hclog.NewNullLogger()
	}
	if h.notifier == nil {
		h.notifier = notify.New()
	}
	if h.hub == nil {
		h.hub = pubsub.NewHub(h.logger)
	}
	if h.runID == "" {
		h.runID = strings.ToLower(ulid.Make().String())
	}
	return h
}

// RequiresAuth returns true if a password is configured
func (h *Handler) RequiresAuth() bool {
	return h.password != ""
}

// CheckAuth verifies the provided password
func (h *Handler) CheckAuth(providedPassword string) bool {
	return h.password == providedPassword
}

// Hub returns the pub/sub hub commands publish to.
func (h *Handler) Hub() *pubsub.Hub {
	return h.hub
}

// Handle processes one command read from a connection. Most commands produce
// a single reply; the subscribe family produces one per channel.
func (h *Handler) Handle(ctx context.Context, s *Session, cmd resp.Value) []resp.Value {
	if cmd.Type != resp.Array || len(cmd.Array) == 0 {
		return one(resp.Err("invalid command format"))
	}
	name := cmd.Array[0].Text()
	args := make([]string, len(cmd.Array)-1)
	for i, a := range cmd.Array[1:] {
		args[i] = a.Text()
	}

	c, known := Lookup(name)
	var spec *commandSpec
	if known {
		spec = &commandTable[c]
	}

	if h.RequiresAuth() && !s.Authenticated() && (spec == nil || !spec.has(flagNoAuth)) {
		return one(resp.ErrRaw("NOAUTH Authentication required."))
	}

	if s.Proto() == 2 && s.InPubSubMode(h.hub) && (spec == nil || !spec.has(flagSubscribedOK)) {
		return one(resp.Err(fmt.Sprintf("Can't execute '%s': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context", strings.ToLower(name))))
	}

	if s.inMulti && (spec == nil || !spec.has(flagTxControl)) {
		return one(h.enqueue(s, name, spec, args))
	}
	if s.inMulti && c == CmdUnwatch {
		return one(resp.Simple("QUEUED"))
	}

	if spec != nil && spec.multi != nil {
		if !spec.arityOK(len(args) + 1) {
			return one(resp.ErrWrongArgs(spec.name))
		}
		start := time.Now()
		replies := spec.multi(h, ctx, s, args)
		metrics.RecordCommand(strings.ToUpper(spec.name), time.Since(start), false)
		return replies
	}

	return one(h.dispatch(ctx, s, name, args))
}

// Execute runs a command without a connection. Connection-only commands
// (AUTH, MULTI, SUBSCRIBE...) return an error reply.
func (h *Handler) Execute(ctx context.Context, name string, args ...string) resp.Value {
	return h.dispatch(ctx, nil, name, args)
}

func one(v resp.Value) []resp.Value {
	return []resp.Value{v}
}

func unknownCommand(name string, args []string) resp.Value {
	var b strings.Builder
	for _, a := range args {
		fmt.Fprintf(&b, "'%s' ", a)
	}
	return resp.Err(fmt.Sprintf("unknown command '%s', with args beginning with: %s", name, b.String()))
}

func (h *Handler) dispatch(ctx context.Context, s *Session, name string, args []string) resp.Value {
	c, ok := Lookup(name)
	if !ok {
		metrics.RecordCommand("UNKNOWN", 0, true)
		return unknownCommand(name, args)
	}
	spec := &commandTable[c]
	if !spec.arityOK(len(args) + 1) {
		return resp.ErrWrongArgs(spec.name)
	}

	start := time.Now()
	var reply resp.Value
	switch {
	case s == nil && spec.has(flagSession):
		reply = resp.Err(fmt.Sprintf("'%s' command requires a client connection", spec.name))
	case spec.direct != nil:
		reply = spec.direct(h, ctx, s, args)
	case spec.op != nil:
		reply = h.run(ctx, spec, args)
	default:
		reply = resp.Err(fmt.Sprintf("'%s' command requires a client connection", spec.name))
	}

	if spec.has(flagWrite) && !reply.IsError() {
		h.touched(c, args)
	}
	metrics.RecordCommand(strings.ToUpper(spec.name), time.Since(start), reply.IsError())
	return reply
}

// run executes an op inside the store's critical section.
func (h *Handler) run(ctx context.Context, spec *commandSpec, args []string) resp.Value {
	ctx, fx := withEffects(ctx)
	defer h.flush(ctx, fx)

	var reply resp.Value
	err := h.store.Do(ctx, func(ops storage.Operations) error {
		reply = spec.op(h, ctx, ops, args)
		return nil
	})
	if err != nil {
		return errorReply(err)
	}
	return reply
}

// call executes a command on an already locked store view. It serves EXEC
// and scripts. Writes and publications are recorded on the batch's effects
// and carried out once the store is released.
func (h *Handler) call(ctx context.Context, ops storage.Operations, name string, args []string) resp.Value {
	c, ok := Lookup(name)
	if !ok {
		return unknownCommand(name, args)
	}
	spec := &commandTable[c]
	if !spec.arityOK(len(args) + 1) {
		return resp.ErrWrongArgs(spec.name)
	}

	fx := effectsFrom(ctx)
	start := time.Now()
	var reply resp.Value
	switch {
	case spec.op != nil:
		reply = spec.op(h, ctx, ops, args)
	case c == CmdPublish && fx != nil:
		reply = resp.Int(h.hub.Receivers(args[0]))
		fx.pubs = append(fx.pubs, publication{channel: args[0], message: args[1]})
	case spec.direct != nil && !spec.has(flagSession):
		reply = spec.direct(h, ctx, nil, args)
	default:
		reply = resp.Err(fmt.Sprintf("'%s' command is not allowed here", spec.name))
	}
	if fx != nil && spec.has(flagWrite) && !reply.IsError() {
		fx.keys = append(fx.keys, writtenKeys(c, args)...)
	}
	metrics.RecordCommand(strings.ToUpper(spec.name), time.Since(start), reply.IsError())
	return reply
}

// ExecBatch runs calls atomically. If a key in ws changed since it was
// watched nothing runs and storage.ErrTxAborted is returned. A failing call
// does not stop the ones after it.
func (h *Handler) ExecBatch(ctx context.Context, ws storage.WatchSet, calls []Call) ([]resp.Value, error) {
	ctx, fx := withEffects(ctx)
	replies := make([]resp.Value, len(calls))
	err := h.store.Exec(ctx, ws, func(ops storage.Operations) error {
		for i, c := range calls {
			replies[i] = h.call(ctx, ops, c.Name, c.Args)
		}
		return nil
	})
	if errors.Is(err, storage.ErrTxAborted) {
		metrics.TxAborted.Inc()
	}
	if err != nil {
		return nil, err
	}
	h.flush(ctx, fx)
	return replies, nil
}

// publication is a PUBLISH held back until the store is released.
type publication struct {
	channel string
	message string
}

// effects collects what a locked batch leaves for after the store is
// released: keys whose blocked readers need waking and messages to publish.
type effects struct {
	keys []string
	pubs []publication
}

type effectsKey struct{}

// withEffects returns ctx carrying a fresh effects collector. Commands a
// script runs inside EXEC record on the collector of the EXEC.
func withEffects(ctx context.Context) (context.Context, *effects) {
	fx := &effects{}
	return context.WithValue(ctx, effectsKey{}, fx), fx
}

func effectsFrom(ctx context.Context) *effects {
	fx, _ := ctx.Value(effectsKey{}).(*effects)
	return fx
}

// flush wakes blocked readers and delivers held back messages. It must not
// run while the store is locked.
func (h *Handler) flush(ctx context.Context, fx *effects) {
	for _, key := range fx.keys {
		h.notifier.Notify(key)
	}
	fx.keys = nil
	for _, p := range fx.pubs {
		if _, err := h.hub.Publish(ctx, p.channel, p.message); err != nil {
			h.logger.Warn("relay publish failed", "channel", p.channel, "error", err)
		}
	}
	fx.pubs = nil
}

// touched wakes clients blocked on the keys a successful write changed.
func (h *Handler) touched(c Command, args []string) {
	for _, key := range writtenKeys(c, args) {
		h.notifier.Notify(key)
	}
}

func writtenKeys(c Command, args []string) []string {
	switch c {
	case CmdXGroup:
		if len(args) > 1 {
			return args[1:2]
		}
		return nil
	case CmdXReadGroup:
		// only moves group cursors; no new data for blocked readers
		return nil
	case CmdEval, CmdEvalSHA:
		// the commands the script ran record their own keys
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	if commandTable[c].has(flagDestKey) && len(args) > 1 {
		return args[:2]
	}
	return args[:1]
}

func (h *Handler) enqueue(s *Session, name string, spec *commandSpec, args []string) resp.Value {
	if reply, ok := checkQueued(name, spec, args); !ok {
		s.dirty = true
		return reply
	}
	s.queue = append(s.queue, queuedCall{name: name, args: args})
	return resp.Simple("QUEUED")
}

// CheckQueued validates a command before it joins a transaction. A command
// that fails here makes EXEC abort the whole transaction.
func CheckQueued(name string, args []string) (resp.Value, bool) {
	var spec *commandSpec
	if c, ok := Lookup(name); ok {
		spec = &commandTable[c]
	}
	return checkQueued(name, spec, args)
}

func checkQueued(name string, spec *commandSpec, args []string) (resp.Value, bool) {
	switch {
	case spec == nil:
		return unknownCommand(name, args), false
	case !spec.arityOK(len(args) + 1):
		return resp.ErrWrongArgs(spec.name), false
	case spec.op == nil && (spec.direct == nil || spec.has(flagSession)):
		return resp.Err(fmt.Sprintf("Command '%s' not allowed inside a transaction", spec.name)), false
	}
	return resp.Value{}, true
}

// errorReply maps a storage error to a RESP error.
func errorReply(err error) resp.Value {
	switch {
	case storage.IsReplyCode(err):
		return resp.ErrRaw(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resp.Err("operation interrupted: " + err.Error())
	}
	return resp.Err(err.Error())
}
