// Package dispatch turns inbound event frames into store operations,
// replies to the requesting connection and fans out pushes.
package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pliu/chatterbox/internal/events"
	"github.com/pliu/chatterbox/internal/metrics"
	"github.com/pliu/chatterbox/internal/models"
	"github.com/pliu/chatterbox/internal/store"
	"github.com/pliu/chatterbox/internal/ws"
)

// Pusher delivers frames to a user's live connections.
type Pusher interface {
	Push(user models.UserID, payload []byte, except string) int
	Connections(user models.UserID) []ws.Session
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeout bounds the store work of each event. Zero means no bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

var _ ws.Handler = (*Dispatcher)(nil)

type Dispatcher struct {
	store   store.Store
	pusher  Pusher
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(st store.Store, pusher Pusher, log logrus.FieldLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: st, pusher: pusher, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleMessage answers every frame with exactly one response, except on
// closed sessions where there is nobody left to answer.
func (d *Dispatcher) HandleMessage(ctx context.Context, s ws.Session, raw []byte) {
	if s.State() == ws.StateClosed {
		return
	}

	start := time.Now()
	req, result, err := d.handle(ctx, s, raw)

	var frame []byte
	if err == nil {
		frame, err = events.Success(req, result)
		if err != nil {
			err = errors.Wrap(err, "encode result")
		}
	}
	if err != nil {
		frame = events.Failure(req, err)
	}

	code := events.Code(err)
	took := time.Since(start)
	d.metrics.ObserveEvent(req.Kind.String(), code, took)

	log := d.log.WithFields(logrus.Fields{
		"conn_id":  s.ID(),
		"user_id":  s.UserID(),
		"event":    req.Name,
		"duration": took,
	})
	switch code {
	case events.CodeOK:
		log.Debug("event handled")
	case events.CodeStorageUnavailable, events.CodeInternal:
		log.WithError(err).Error("event failed")
	default:
		log.WithError(err).WithField("code", code).Info("event rejected")
	}

	if err := s.Send(frame); err != nil {
		log.WithError(err).Debug("response dropped")
	}
}

func (d *Dispatcher) handle(ctx context.Context, s ws.Session, raw []byte) (events.Request, interface{}, error) {
	if st := s.State(); st != ws.StateAuthenticated && st != ws.StateActive {
		return events.Request{}, nil, errors.Wrapf(events.ErrUnauthorized, "connection is %s", st)
	}

	req, err := events.Decode(raw)
	if err != nil {
		return req, nil, err
	}
	if actor := req.Command.Actor(); actor != s.UserID() {
		return req, nil, errors.Wrapf(events.ErrUnauthorized, "%s acting as %q", req.Name, actor)
	}

	// A client that disconnects mid-event must not abort committed work.
	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := req.Command.Dispatch(ctx, call{Dispatcher: d, session: s})
	return req, result, err
}

// pushContext gives work that follows a committed mutation its own time
// budget, so a request that used up its timeout still delivers pushes.
func (d *Dispatcher) pushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return ctx, func() {}
}

func (d *Dispatcher) push(user models.UserID, name string, payload []byte, except string) {
	n := d.pusher.Push(user, payload, except)
	d.metrics.ObservePush(name, n)
}
