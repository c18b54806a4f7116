package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucambottino/ec2-price-collector/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// connState is the resilience manager's view of one venue connection.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateAuthenticating
	stateSubscribed
	stateStreaming
	stateClosing
	stateReconnecting
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateSubscribed:
		return "subscribed"
	case stateStreaming:
		return "streaming"
	case stateClosing:
		return "closing"
	case stateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// defaultReconnectDelay is the wait before re-entering connecting after
// a transport error or remote close.
const defaultReconnectDelay = 500 * time.Millisecond

// session is the venue connection lifecycle a resilience manager drives.
// stream blocks reading frames until a transport error, remote close or
// context cancellation; close must be safe to call concurrently with
// stream and on an already torn down connection.
type session interface {
	connect(ctx context.Context) error
	subscribe(ctx context.Context, syms []string) error
	stream(ctx context.Context) error
	close() error
}

// authenticator is implemented by sessions whose venue requires a
// signed handshake between connect and subscribe.
type authenticator interface {
	authenticate(ctx context.Context) error
}

// resilience drives a session through an explicit state machine:
//
//	disconnected -> connecting -> [authenticating] -> subscribed -> streaming
//
// with reconnecting reachable from any of the middle states on error.
// Subscriptions are not preserved by venues across a transport
// reconnect, so every cycle replays authentication and the full current
// symbol set. Context cancellation is the only path to a final
// disconnected state.
type resilience struct {
	name    string
	sess    session
	delay   time.Duration
	maxTry  int
	state   atomic.Int32
	attempt int

	mu      sync.Mutex
	symbols []string

	// kick wakes the run loop when a symbol update arrives while the
	// manager idles on an empty universe.
	kick chan struct{}
}

func newResilience(name string, sess session, cfg *config.Reconnect, syms []string) *resilience {
	delay := defaultReconnectDelay
	if cfg != nil && cfg.DelayMilli > 0 {
		delay = time.Duration(cfg.DelayMilli) * time.Millisecond
	}
	maxTry := 0
	if cfg != nil {
		maxTry = cfg.MaxRetries
	}
	return &resilience{
		name:    name,
		sess:    sess,
		delay:   delay,
		maxTry:  maxTry,
		symbols: append([]string(nil), syms...),
		kick:    make(chan struct{}, 1),
	}
}

func (r *resilience) currentState() connState {
	return connState(r.state.Load())
}

func (r *resilience) setState(s connState) {
	r.state.Store(int32(s))
	log.Debug().Str("exchange", r.name).Str("state", s.String()).Msg("connection state")
}

func (r *resilience) currentSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.symbols...)
}

// update swaps the symbol set and forces the session down so the next
// cycle resubscribes with the new set.
func (r *resilience) update(syms []string) {
	r.mu.Lock()
	r.symbols = append([]string(nil), syms...)
	r.mu.Unlock()

	select {
	case r.kick <- struct{}{}:
	default:
	}
	_ = r.sess.close()
}

// run loops connection cycles until ctx is canceled. With MaxRetries
// zero it reconnects indefinitely; a positive bound gives up with an
// error after that many consecutive failed cycles.
func (r *resilience) run(ctx context.Context) error {
	defer r.setState(stateDisconnected)

	for {
		if ctx.Err() != nil {
			r.setState(stateClosing)
			_ = r.sess.close()
			return ctx.Err()
		}

		if len(r.currentSymbols()) == 0 {
			// Empty symbol universe: idle rather than fail, wake on update.
			r.setState(stateDisconnected)
			log.Info().Str("exchange", r.name).Msg("no symbols to subscribe, idling")
			select {
			case <-r.kick:
				continue
			case <-ctx.Done():
				continue
			}
		}

		err := r.cycle(ctx)
		if ctx.Err() != nil {
			r.setState(stateClosing)
			_ = r.sess.close()
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}

		r.attempt++
		if r.maxTry > 0 && r.attempt > r.maxTry {
			log.Error().Err(err).Str("exchange", r.name).Int("retry", r.attempt-1).Msg("reconnect bound reached, giving up")
			return errors.Wrapf(err, "%s: reconnect bound %d reached", r.name, r.maxTry)
		}

		r.setState(stateReconnecting)
		log.Error().Err(err).Str("exchange", r.name).Int("retry", r.attempt).Msg("connection lost, reconnecting")
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}
}

// cycle performs one full connect / auth / subscribe / stream pass.
func (r *resilience) cycle(ctx context.Context) error {
	r.setState(stateConnecting)
	if err := r.sess.connect(ctx); err != nil {
		return err
	}
	defer r.sess.close()

	if a, ok := r.sess.(authenticator); ok {
		r.setState(stateAuthenticating)
		if err := a.authenticate(ctx); err != nil {
			return err
		}
	}

	r.setState(stateSubscribed)
	if err := r.sess.subscribe(ctx, r.currentSymbols()); err != nil {
		return err
	}

	// A full subscribe resets the failure counter.
	r.attempt = 0

	r.setState(stateStreaming)
	return r.sess.stream(ctx)
}
