package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/storage"
)

// Request is what the limiter needs to know about an inbound call.
type Request struct {
	// Identifier keys the counter. It may come from client-supplied headers.
	Identifier string
	// PeerIP is the transport-level client address, after trusted proxy
	// resolution. Only PeerIP is matched against the allowlist.
	PeerIP string
	Path   string
}

// Decision is the outcome of Check for an admitted request.
type Decision struct {
	Class string
	Key   string
	// Status is set only when HasStatus is true; rate limit headers are
	// written from it.
	Status    Status
	HasStatus bool
	// Bypassed requests never touch the store.
	Bypassed bool
	// Deferred requests are counted by Complete once the response status is
	// known.
	Deferred bool
	// Degraded requests were admitted uncounted under FailOpen.
	Degraded bool
}

// Limiter enforces one endpoint class.
type Limiter struct {
	cfg       Config
	eval      *Evaluator
	allowlist *Allowlist
	stats     Recorder
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Limiter)

func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithStats records every counted decision. Recording is best-effort.
func WithStats(r Recorder) Option {
	return func(l *Limiter) {
		l.stats = r
	}
}

func New(store storage.Store, cfg Config, opts ...Option) (*Limiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	allowlist, err := NewAllowlist(cfg.Allowlist)
	if err != nil {
		return nil, err
	}

	if !cfg.Bypass && cfg.Counter == CounterAtomic && !storage.SupportsAtomic(store) {
		return nil, errors.Join(ErrInvalidConfig, storage.ErrAtomicUnsupported)
	}

	l := &Limiter{
		cfg:       cfg,
		allowlist: allowlist,
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.eval = NewEvaluator(store, l.now)
	l.log = l.log.With(logger.Component("ratelimit"), logger.Class(cfg.Name))

	return l, nil
}

func (l *Limiter) Config() Config {
	return l.cfg
}

// Check decides whether req may proceed. A nil error admits the request; a
// *LimitError rejects it with 429 and a *DecisionError reports that no
// decision could be made.
func (l *Limiter) Check(ctx context.Context, req Request) (Decision, error) {
	d := Decision{Class: l.cfg.Name}

	if l.cfg.Bypass {
		d.Bypassed = true
		return d, nil
	}

	id := strings.TrimSpace(req.Identifier)
	if id == "" {
		id = UnknownIdentifier
	}

	if l.allowlist.Contains(strings.TrimSpace(req.PeerIP)) {
		d.Bypassed = true
		return d, nil
	}

	if id == UnknownIdentifier {
		l.log.Warn("client identity unknown",
			logger.Path(req.Path),
			slog.String("policy", l.cfg.Policy.String()),
		)
		if l.cfg.Policy == FailClosed {
			return d, &DecisionError{Class: l.cfg.Name, Path: req.Path, Cause: ErrIdentityUnknown}
		}
		d.Degraded = true
		return d, nil
	}

	d.Key = BuildKey(l.cfg.KeyPrefix, l.cfg.Name, id, req.Path)

	var err error
	if l.cfg.SkipSuccessfulRequests {
		d, err = l.checkDeferred(ctx, d)
	} else {
		d, err = l.checkStandard(ctx, d)
	}

	var limitErr *LimitError
	switch {
	case err == nil:
		l.record(ctx, Event{Class: l.cfg.Name, Allowed: true})
		return d, nil
	case errors.As(err, &limitErr):
		l.log.Info("rate limit exceeded",
			logger.Key(d.Key),
			slog.Int("limit", limitErr.Limit),
			slog.Int("retry_after", limitErr.RetryAfterSeconds()),
		)
		l.record(ctx, Event{Class: l.cfg.Name, Allowed: false})
		return d, err
	default:
		return l.storeFailure(ctx, d, err)
	}
}

func (l *Limiter) checkStandard(ctx context.Context, d Decision) (Decision, error) {
	if l.cfg.Counter == CounterAtomic {
		st, err := l.eval.IncrementAtomic(ctx, d.Key, l.cfg.Limit, l.cfg.Window)
		if err != nil {
			return d, err
		}
		d.Status, d.HasStatus = st, true
		if st.Current > st.Limit {
			return d, l.exceeded(st)
		}
		return d, nil
	}

	st, err := l.eval.Status(ctx, d.Key, l.cfg.Limit, l.cfg.Window)
	if err != nil {
		return d, err
	}
	d.Status, d.HasStatus = st, true
	if st.Exceeded() {
		return d, l.exceeded(st)
	}

	st, err = l.eval.commit(ctx, d.Key, st)
	if err != nil {
		return d, err
	}
	d.Status = st

	return d, nil
}

func (l *Limiter) checkDeferred(ctx context.Context, d Decision) (Decision, error) {
	st, err := l.eval.Status(ctx, d.Key, l.cfg.Limit, l.cfg.Window)
	if err != nil {
		return d, err
	}
	d.Status, d.HasStatus = st, true
	if st.Exceeded() {
		return d, l.exceeded(st)
	}

	d.Deferred = true
	return d, nil
}

func (l *Limiter) exceeded(st Status) *LimitError {
	return &LimitError{
		Class:      l.cfg.Name,
		Message:    l.cfg.Message,
		Limit:      st.Limit,
		RetryAfter: st.RetryAfter,
		ResetTime:  st.ResetTime,
	}
}

func (l *Limiter) storeFailure(ctx context.Context, d Decision, err error) (Decision, error) {
	if l.cfg.Policy == FailClosed {
		l.log.Error("rate limit store unavailable, rejecting request",
			logger.Key(d.Key),
			logger.Error(err),
		)
		l.record(ctx, Event{Class: l.cfg.Name, Allowed: false, Degraded: true})
		return d, &LimitError{
			Class:      l.cfg.Name,
			Message:    l.cfg.Message,
			Limit:      l.cfg.Limit,
			RetryAfter: l.cfg.Window,
			ResetTime:  l.now().Add(l.cfg.Window),
			Cause:      err,
		}
	}

	l.log.Warn("rate limit store unavailable, admitting request",
		logger.Key(d.Key),
		logger.Error(err),
	)
	l.record(ctx, Event{Class: l.cfg.Name, Allowed: true, Degraded: true})

	d.Degraded = true
	d.Deferred = false
	return d, nil
}

// Complete counts a deferred request once its status code is known. Only
// responses outside [200,300) consume quota. The request context may already
// be cancelled, so the write runs detached from it.
func (l *Limiter) Complete(ctx context.Context, d Decision, statusCode int) {
	if !d.Deferred || (statusCode >= 200 && statusCode < 300) {
		return
	}

	ctx = context.WithoutCancel(ctx)

	var err error
	if l.cfg.Counter == CounterAtomic {
		_, err = l.eval.IncrementAtomic(ctx, d.Key, l.cfg.Limit, l.cfg.Window)
	} else {
		_, err = l.eval.Increment(ctx, d.Key, l.cfg.Limit, l.cfg.Window)
	}
	if err != nil {
		l.log.Warn("failed to count unsuccessful request",
			logger.Key(d.Key),
			logger.StatusCode(statusCode),
			logger.Error(err),
		)
	}
}

func (l *Limiter) record(ctx context.Context, ev Event) {
	if l.stats == nil {
		return
	}
	ev.At = l.now()
	if err := l.stats.Record(ctx, ev); err != nil {
		l.log.Debug("failed to record rate limit stats", logger.Error(err))
	}
}
