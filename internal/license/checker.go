package license

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds how long a dispatched check may wait for its response.
const DefaultTimeout = 10 * time.Second

// maxNonceAttempts caps the retries spent looking for an unused nonce.
const maxNonceAttempts = 8

// CheckerConfig holds the collaborators and identity a Checker works with.
type CheckerConfig struct {
	Policy       Policy
	Channel      Channel
	Verifier     Verifier
	PublicKey    crypto.PublicKey
	PackageID    string
	VersionLabel string
	Timeout      time.Duration
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithClock sets the clock used for timeouts and timestamps.
func WithClock(c clock.Clock) CheckerOption {
	return func(ch *Checker) {
		if c != nil {
			ch.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) CheckerOption {
	return func(ch *Checker) {
		if l != nil {
			ch.logger = l
		}
	}
}

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(m *CheckMetrics) CheckerOption {
	return func(ch *Checker) { ch.metrics = m }
}

// WithTracer overrides the tracer used for per-check spans.
func WithTracer(t trace.Tracer) CheckerOption {
	return func(ch *Checker) {
		if t != nil {
			ch.tracer = t
		}
	}
}

// Stats is a snapshot of the Checker's bookkeeping.
type Stats struct {
	Pending    int  `json:"pending"`
	InFlight   int  `json:"in_flight"`
	Connected  bool `json:"connected"`
	Connecting bool `json:"connecting"`
}

// checkState tracks one PendingCheck through its lifecycle.
type checkState struct {
	check *PendingCheck
	ctx   context.Context
	span  trace.Span
	timer *clock.Timer
}

// Checker orchestrates license checks. All bookkeeping happens on a single
// worker goroutine; every external event is posted to it as a task, so the
// pending queue, the in-flight set and the channel handle are never shared.
type Checker struct {
	policy       Policy
	channel      Channel
	verifier     Verifier
	publicKey    crypto.PublicKey
	packageID    string
	versionLabel string
	timeout      time.Duration

	clock   clock.Clock
	logger  *slog.Logger
	metrics *CheckMetrics
	tracer  trace.Tracer

	queue *taskQueue
	done  chan struct{}

	// worker-owned state
	pending    []*checkState
	inFlight   map[*checkState]struct{}
	connected  bool
	connecting bool
	connGen    uint64
	closed     bool
}

// NewChecker validates cfg and starts the worker goroutine.
func NewChecker(cfg CheckerConfig, opts ...CheckerOption) (*Checker, error) {
	switch {
	case cfg.Policy == nil:
		return nil, fmt.Errorf("%w: policy is required", ErrInvalidConfig)
	case cfg.Channel == nil:
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidConfig)
	case cfg.Verifier == nil:
		return nil, fmt.Errorf("%w: verifier is required", ErrInvalidConfig)
	case cfg.PackageID == "":
		return nil, fmt.Errorf("%w: package id is required", ErrInvalidConfig)
	case cfg.PublicKey == nil:
		return nil, fmt.Errorf("%w: public key is required", ErrInvalidConfig)
	}
	if kv, ok := cfg.Verifier.(KeyValidator); ok {
		if err := kv.ValidateKey(cfg.PublicKey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Checker{
		policy:       cfg.Policy,
		channel:      cfg.Channel,
		verifier:     cfg.Verifier,
		publicKey:    cfg.PublicKey,
		packageID:    cfg.PackageID,
		versionLabel: cfg.VersionLabel,
		timeout:      cfg.Timeout,
		clock:        clock.New(),
		logger:       slog.Default(),
		tracer:       otel.Tracer(TracerName),
		queue:        newTaskQueue(),
		done:         make(chan struct{}),
		inFlight:     make(map[*checkState]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "license_checker"))

	go c.run()
	return c, nil
}

// RequestCheck asks whether the installation may run. It returns immediately;
// cb receives exactly one outcome later, on the worker goroutine.
func (c *Checker) RequestCheck(ctx context.Context, cb Callback) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.queue.post(func() { c.requestCheck(ctx, cb) }) {
		c.logWarn(ctx, "check_request", "checker closed, rejecting check")
		cb.ApplicationError(ErrorCheckerClosed)
	}
}

// Check is the blocking form of RequestCheck. When ctx ends first the check
// still resolves internally, but its outcome is discarded.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	results := make(resultCallback, 1)
	c.RequestCheck(ctx, results)
	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// FinishAllChecks resolves every outstanding check without waiting for its
// timeout and releases the channel. Intended for shutdown.
func (c *Checker) FinishAllChecks(ctx context.Context) error {
	return c.await(ctx, c.finishAllChecks)
}

// Close finishes all checks and stops the worker. Checks requested afterwards
// resolve immediately with ErrorCheckerClosed.
func (c *Checker) Close(ctx context.Context) error {
	err := c.await(ctx, func() {
		c.finishAllChecks()
		c.closed = true
	})
	if errors.Is(err, ErrCheckerClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot taken on the worker goroutine.
func (c *Checker) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.await(ctx, func() {
		stats = Stats{
			Pending:    len(c.pending),
			InFlight:   len(c.inFlight),
			Connected:  c.connected,
			Connecting: c.connecting,
		}
	})
	return stats, err
}

// AllowAccess exposes the policy's current decision without starting a check.
func (c *Checker) AllowAccess() bool {
	return c.policy.AllowAccess()
}

// await runs fn on the worker and waits for it to complete.
func (c *Checker) await(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	if !c.queue.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrCheckerClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Checker) run() {
	defer close(c.done)
	for range c.queue.wake {
		for _, task := range c.queue.drain() {
			c.runTask(task)
		}
		if c.closed {
			for _, task := range c.queue.closeAndDrain() {
				c.runTask(task)
			}
			return
		}
	}
}

func (c *Checker) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("license checker task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

func (c *Checker) requestCheck(ctx context.Context, cb Callback) {
	c.metrics.recordRequested(ctx)

	if c.closed {
		c.invoke(ctx, "closed", func() { cb.ApplicationError(ErrorCheckerClosed) })
		return
	}

	if c.policy.AllowAccess() {
		c.metrics.recordCacheHit(ctx)
		c.logInfo(ctx, "check_request", "using cached license response")
		c.invoke(ctx, "cached", func() { cb.Allow(Licensed) })
		return
	}

	nonce, err := c.freshNonce()
	if err != nil {
		c.logError(ctx, "check_request", "failed to generate nonce", slog.String("error", err.Error()))
		c.invoke(ctx, "nonce_failure", func() { cb.ApplicationError(ErrorUnexpectedServiceFailure) })
		return
	}

	check := newPendingCheck(nonce, c.packageID, c.versionLabel, cb, c.clock.Now())
	spanCtx, span := c.tracer.Start(ctx, "license.check",
		trace.WithAttributes(
			attribute.String("license.check_id", check.ID()),
			attribute.String("license.package_id", check.PackageID()),
		))
	st := &checkState{check: check, ctx: spanCtx, span: span}
	c.pending = append(c.pending, st)
	c.metrics.recordOutstanding(ctx, 1)

	switch {
	case c.connected:
		c.runChecks()
	case c.connecting:
		c.logDebug(spanCtx, "check_queued", "waiting for licensing channel", c.checkAttrs(st)...)
	default:
		c.establish(spanCtx)
	}
}

// freshNonce picks a nonce not used by any outstanding check.
func (c *Checker) freshNonce() (int32, error) {
	for attempt := 0; attempt < maxNonceAttempts; attempt++ {
		nonce, err := generateNonce()
		if err != nil {
			return 0, err
		}
		if !c.nonceInUse(nonce) {
			return nonce, nil
		}
	}
	return 0, errors.New("no unused nonce available")
}

func (c *Checker) nonceInUse(nonce int32) bool {
	for _, st := range c.pending {
		if st.check.nonce == nonce {
			return true
		}
	}
	for st := range c.inFlight {
		if st.check.nonce == nonce {
			return true
		}
	}
	return false
}

func (c *Checker) establish(ctx context.Context) {
	c.connGen++
	c.connecting = true
	c.logInfo(ctx, "channel_establish", "binding to licensing service")

	err := c.channel.Establish(&connectionEvents{checker: c, gen: c.connGen})
	if err == nil {
		return
	}

	c.connecting = false
	queued := c.pending
	c.pending = nil

	if errors.Is(err, ErrPermissionDenied) {
		c.logError(ctx, "channel_establish", "missing permission for licensing service",
			slog.String("error", err.Error()))
		for _, st := range queued {
			c.resolveApplicationError(st, ErrorMissingPermission)
		}
		return
	}

	c.logError(ctx, "channel_establish", "could not bind to licensing service",
		slog.String("error", err.Error()))
	for _, st := range queued {
		c.handleConnectionError(st, "bind_failed")
	}
}

func (c *Checker) onConnected(gen uint64) {
	if gen != c.connGen || !c.connecting {
		c.logger.Debug("ignoring stale channel connect", slog.Uint64("generation", gen))
		return
	}
	c.connecting = false
	c.connected = true
	c.logger.Info("licensing channel connected", slog.Int("queued", len(c.pending)))
	c.runChecks()
}

func (c *Checker) onDisconnected(gen uint64, err error) {
	if gen != c.connGen {
		return
	}
	attrs := []any{slog.Int("queued", len(c.pending)), slog.Int("in_flight", len(c.inFlight))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Warn("licensing channel disconnected", attrs...)

	c.connected = false
	c.connecting = false

	// queued checks have no timer to rescue them; in-flight ones do
	queued := c.pending
	c.pending = nil
	for _, st := range queued {
		c.handleConnectionError(st, "disconnected")
	}
}

// runChecks drains the pending queue in FIFO order.
func (c *Checker) runChecks() {
	for len(c.pending) > 0 {
		st := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]

		c.inFlight[st] = struct{}{}
		c.logInfo(st.ctx, "check_dispatch", "calling checkLicense on licensing service", c.checkAttrs(st)...)

		if err := c.channel.SendCheck(st.check.nonce, st.check.packageID, &checkSink{checker: c, state: st}); err != nil {
			delete(c.inFlight, st)
			c.metrics.recordDispatchFailure(st.ctx)
			c.logWarn(st.ctx, "check_dispatch", "dispatch failed",
				append(c.checkAttrs(st), slog.String("error", err.Error()))...)
			c.handleConnectionError(st, "dispatch_failed")
			continue
		}

		c.metrics.recordDispatched(st.ctx)
		c.armTimeout(st)
	}
	c.releaseIfIdle()
}

func (c *Checker) armTimeout(st *checkState) {
	st.timer = c.clock.AfterFunc(c.timeout, func() {
		c.queue.post(func() { c.onTimeout(st) })
	})
}

func (c *Checker) disarm(st *checkState) {
	if st.timer != nil {
		st.timer.Stop()
	}
}

func (c *Checker) onResponse(st *checkState, resp ServerResponse) {
	if _, ok := c.inFlight[st]; !ok {
		c.metrics.recordLateResponse(st.ctx)
		c.logDebug(st.ctx, "check_response", "ignoring response for resolved check", c.checkAttrs(st)...)
		return
	}
	delete(c.inFlight, st)
	c.disarm(st)

	verdict, extras := c.verify(st, resp)
	c.logInfo(st.ctx, "check_response", "received response",
		append(c.checkAttrs(st), slog.String("verdict", verdict.String()))...)

	c.policy.ProcessServerResponse(verdict, extras)
	c.deliverVerdict(st, verdict, "response")
	c.releaseIfIdle()
}

func (c *Checker) verify(st *checkState, resp ServerResponse) (verdict Verdict, extras Extras) {
	defer func() {
		if r := recover(); r != nil {
			c.logError(st.ctx, "check_verify", "verifier panicked, treating as retry",
				slog.Any("panic", r))
			verdict, extras = Retry, nil
		}
	}()
	return c.verifier.Verify(VerifyRequest{
		PublicKey:    c.publicKey,
		Nonce:        st.check.nonce,
		PackageID:    st.check.packageID,
		VersionLabel: st.check.versionLabel,
		Response:     resp,
		Now:          c.clock.Now(),
	})
}

func (c *Checker) onChannelFailure(st *checkState, err error) {
	if _, ok := c.inFlight[st]; !ok {
		return
	}
	delete(c.inFlight, st)
	c.disarm(st)
	c.logWarn(st.ctx, "check_response", "licensing channel reported failure",
		append(c.checkAttrs(st), slog.String("error", err.Error()))...)
	c.handleConnectionError(st, "channel_failure")
	c.releaseIfIdle()
}

func (c *Checker) onTimeout(st *checkState) {
	if _, ok := c.inFlight[st]; !ok {
		return
	}
	delete(c.inFlight, st)
	c.metrics.recordTimeout(st.ctx)
	c.logInfo(st.ctx, "check_timeout", "check timed out", c.checkAttrs(st)...)
	st.span.RecordError(ErrCheckTimeout)
	c.handleConnectionError(st, "timeout")
	c.releaseIfIdle()
}

// handleConnectionError feeds a Retry to the policy: connectivity failures are
// indistinguishable from a server asking us to retry.
func (c *Checker) handleConnectionError(st *checkState, reason string) {
	c.policy.ProcessServerResponse(Retry, nil)
	c.deliverVerdict(st, Retry, reason)
}

// deliverVerdict resolves st using the post-update policy decision.
func (c *Checker) deliverVerdict(st *checkState, verdict Verdict, outcome string) {
	cb := st.check.callback
	if c.policy.AllowAccess() {
		c.finish(st, outcome, Allowed, func() { cb.Allow(verdict) })
	} else {
		c.finish(st, outcome, Denied, func() { cb.DontAllow(verdict) })
	}
}

func (c *Checker) resolveApplicationError(st *checkState, code ErrorCode) {
	cb := st.check.callback
	c.finish(st, "application_error", Errored, func() { cb.ApplicationError(code) })
}

// finish records the terminal outcome of st and invokes its callback.
func (c *Checker) finish(st *checkState, outcome string, kind ResultKind, notify func()) {
	elapsed := c.clock.Since(st.check.createdAt)
	c.metrics.recordResolved(st.ctx, outcome, kind, elapsed)
	c.metrics.recordOutstanding(st.ctx, -1)

	st.span.SetAttributes(
		attribute.String("license.outcome", outcome),
		attribute.String("license.result", kind.String()),
	)
	if kind == Errored {
		st.span.SetStatus(codes.Error, outcome)
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()

	c.invoke(st.ctx, outcome, notify)
}

// invoke runs a callback, containing any panic it raises.
func (c *Checker) invoke(ctx context.Context, outcome string, notify func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logError(ctx, "check_callback", "license callback panicked",
				slog.String("outcome", outcome), slog.Any("panic", r))
		}
	}()
	notify()
}

func (c *Checker) finishAllChecks() {
	for st := range c.inFlight {
		delete(c.inFlight, st)
		c.disarm(st)
		c.cancel(st)
	}
	queued := c.pending
	c.pending = nil
	for _, st := range queued {
		c.cancel(st)
	}
	c.releaseChannel()
}

// cancel resolves st without a server verdict. The policy is left untouched
// because no exchange with the licensing authority completed.
func (c *Checker) cancel(st *checkState) {
	cb := st.check.callback
	if c.policy.AllowAccess() {
		c.finish(st, "cancelled", Allowed, func() { cb.Allow(Retry) })
	} else {
		c.finish(st, "cancelled", Denied, func() { cb.DontAllow(Retry) })
	}
}

func (c *Checker) releaseIfIdle() {
	if len(c.inFlight) == 0 && len(c.pending) == 0 {
		c.releaseChannel()
	}
}

func (c *Checker) releaseChannel() {
	if !c.connected && !c.connecting {
		return
	}
	c.connected = false
	c.connecting = false
	c.connGen++
	c.logger.Debug("releasing licensing channel")

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("licensing channel release panicked", slog.Any("panic", r))
		}
	}()
	c.channel.Release()
}

func (c *Checker) checkAttrs(st *checkState) []slog.Attr {
	return []slog.Attr{
		slog.String("check_id", st.check.id),
		slog.String("package_id", st.check.packageID),
	}
}

// checkSink routes one check's transport callbacks back onto the worker.
type checkSink struct {
	checker *Checker
	state   *checkState
}

func (s *checkSink) Deliver(resp ServerResponse) {
	s.checker.queue.post(func() { s.checker.onResponse(s.state, resp) })
}

func (s *checkSink) Fail(err error) {
	if err == nil {
		err = errors.New("unspecified channel failure")
	}
	s.checker.queue.post(func() { s.checker.onChannelFailure(s.state, err) })
}

// connectionEvents routes channel lifecycle events back onto the worker.
// Events from a superseded establishment are dropped.
type connectionEvents struct {
	checker *Checker
	gen     uint64
}

func (e *connectionEvents) Connected() {
	e.checker.queue.post(func() { e.checker.onConnected(e.gen) })
}

func (e *connectionEvents) Disconnected(err error) {
	e.checker.queue.post(func() { e.checker.onDisconnected(e.gen, err) })
}
