package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
)

// DefaultGracePeriod is how long the upstream watch survives without observers.
const DefaultGracePeriod = 5 * time.Second

var errUpstreamEnded = errors.New("credential: upstream watch ended")

// Option configures a Stream.
type Option func(*Stream)

// WithGracePeriod overrides DefaultGracePeriod. A non-positive period tears
// the upstream down as soon as the last observer leaves.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Stream) {
		s.grace = d
	}
}

// WithLogger sets the logger used for upstream failures.
func WithLogger(logger logging.Logger) Option {
	return func(s *Stream) {
		s.logger = logging.OrDiscard(logger)
	}
}

// WithBackOff sets the retry policy factory for a failing upstream.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(s *Stream) {
		if factory != nil {
			s.newBackOff = factory
		}
	}
}

// Stream turns a Source into a value any number of observers can follow.
// One upstream watch is shared by every observer; it starts with the first
// observer and stops once no observer has been attached for the grace period.
type Stream struct {
	source     Source
	grace      time.Duration
	logger     logging.Logger
	newBackOff func() backoff.BackOff

	mu         sync.Mutex
	observers  map[*Observer]struct{}
	latest     Value
	cancel     context.CancelFunc
	generation uint64
	graceSeq   uint64
	graceTimer *time.Timer
	starts     int
	stopped    bool
}

// NewStream constructs a Stream over source.
func NewStream(source Source, opts ...Option) (*Stream, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	s := &Stream{
		source:     source,
		grace:      DefaultGracePeriod,
		logger:     logging.Discard(),
		newBackOff: defaultBackOff,
		observers:  make(map[*Observer]struct{}),
		latest:     Absent(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Subscribe attaches a new observer. The observer immediately holds the last
// value seen from upstream, or Absent before anything has been read.
func (s *Stream) Subscribe() *Observer {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := &Observer{stream: s, ch: make(chan Value, 1)}
	if s.stopped {
		obs.current = s.latest
		obs.closed = true
		close(obs.ch)
		return obs
	}
	obs.offer(s.latest)
	s.observers[obs] = struct{}{}

	s.stopGraceLocked()
	if s.cancel == nil {
		s.startLocked()
	}
	return obs
}

// Latest returns the most recent value read from upstream.
func (s *Stream) Latest() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Stop tears down the upstream and closes every observer.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.stopGraceLocked()
	s.teardownLocked()
	for obs := range s.observers {
		obs.closed = true
		close(obs.ch)
	}
	s.observers = make(map[*Observer]struct{})
}

func (s *Stream) startLocked() {
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.starts++
	metrics.IncTokenUpstreamStart()
	go s.run(ctx, gen)
}

func (s *Stream) run(ctx context.Context, gen uint64) {
	emit := func(v Value) {
		s.publish(gen, v)
	}
	op := func() error {
		err := s.source.Watch(ctx, emit)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errUpstreamEnded
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.WithFields(logging.Fields{
			"error": err.Error(),
			"retry": wait.String(),
		}).Warn("credential upstream failed")
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify)
}

func (s *Stream) publish(gen uint64, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.cancel == nil {
		return
	}
	s.latest = v
	for obs := range s.observers {
		obs.offer(v)
	}
}

func (s *Stream) detach(obs *Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs.closed {
		return
	}
	obs.closed = true
	delete(s.observers, obs)
	close(obs.ch)

	if len(s.observers) > 0 || s.cancel == nil {
		return
	}
	if s.grace <= 0 {
		s.teardownLocked()
		return
	}
	s.graceSeq++
	seq := s.graceSeq
	s.graceTimer = time.AfterFunc(s.grace, func() {
		s.expire(seq)
	})
}

func (s *Stream) expire(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.graceSeq || len(s.observers) > 0 {
		return
	}
	s.graceTimer = nil
	s.teardownLocked()
}

func (s *Stream) stopGraceLocked() {
	s.graceSeq++
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// teardownLocked cancels the upstream. The latest value is kept so the next
// observer sees it while a fresh read starts.
func (s *Stream) teardownLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.generation++
}

// Observer follows a Stream. Values is buffered by one and only ever holds the
// newest undelivered value.
type Observer struct {
	stream *Stream

	// guarded by stream.mu
	ch      chan Value
	current Value
	seen    bool
	closed  bool
}

// Values delivers changes. The channel is closed by Close or Stream.Stop.
func (o *Observer) Values() <-chan Value {
	return o.ch
}

// Current returns the latest value delivered to this observer.
func (o *Observer) Current() Value {
	o.stream.mu.Lock()
	defer o.stream.mu.Unlock()
	return o.current
}

// Close detaches the observer. It is safe to call more than once.
func (o *Observer) Close() {
	o.stream.detach(o)
}

func (o *Observer) offer(v Value) {
	if o.closed || (o.seen && o.current == v) {
		return
	}
	o.seen = true
	o.current = v
	select {
	case <-o.ch:
	default:
	}
	o.ch <- v
}
