package collectors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"
)

// Options are the dependencies every collector takes.
type Options struct {
	Logger    *logger.Logger
	Metrics   *metrics.Metrics // optional
	StopGrace time.Duration

	Store         interfaces.IBatchWriter // nil disables persistence
	Buffer        BufferConfig
	FlushInterval time.Duration
}

func (o Options) withDefaults(name string) Options {
	if o.Logger == nil {
		o.Logger = logger.NewDiscardLogger(name)
	} else {
		o.Logger = o.Logger.Named(name)
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	return o
}

// -----------------------------------------------------------------------------

// lifecycle is embedded by every collector. It owns the state machine, the
// background loop group, status counters and the batch buffers to drain on stop.
type lifecycle struct {
	name     string
	category string
	opts     Options
	logger   *logger.Logger

	// serialises Start/Stop; never held by Snapshot
	transition sync.Mutex
	state      atomic.Int32
	startedAt  atomic.Int64 // unix nanos
	cancel     context.CancelFunc
	loops      sync.WaitGroup

	samples atomic.Uint64
	errs    atomic.Uint64
	errMu   sync.Mutex
	lastErr string

	stampMu   sync.Mutex
	lastStamp time.Time

	buffers     []*BatchBuffer
	flushSignal chan struct{}

	// drain runs after the loops exited and before the final flush
	drain func(now time.Time)
}

func (l *lifecycle) init(name, category string, opts Options) {
	l.opts = opts.withDefaults(name)
	l.name = name
	l.category = category
	l.logger = l.opts.Logger
	l.flushSignal = make(chan struct{}, 1)
}

// newBuffer registers a buffer to be drained by Flush and Stop.
func (l *lifecycle) newBuffer(table models.Category) *BatchBuffer {
	b := NewBatchBuffer(table, l.opts.Store, l.opts.Buffer, l.logger, l.opts.Metrics)
	b.signal = l.flushSignal
	l.buffers = append(l.buffers, b)
	return b
}

func (l *lifecycle) Name() string     { return l.name }
func (l *lifecycle) Category() string { return l.category }

func (l *lifecycle) State() State { return State(l.state.Load()) }

// IsReady is true only once Start has fully completed.
func (l *lifecycle) IsReady() bool { return l.State() == StateRunning }

// -----------------------------------------------------------------------------

// start runs prepare (probing required resources) and then launches loops
// against a context that lives until stop. A second call while running is a no-op.
func (l *lifecycle) start(ctx context.Context, prepare func(ctx context.Context) error, loops ...func(ctx context.Context)) error {
	l.transition.Lock()
	defer l.transition.Unlock()

	if l.State() == StateRunning {
		return nil
	}
	l.state.Store(int32(StateStarting))

	if prepare != nil {
		if err := prepare(ctx); err != nil {
			var startErr *helpers.StartupError
			if !errors.As(err, &startErr) {
				err = helpers.NewStartupError(l.name, err)
			}
			l.recordError(err)
			l.state.Store(int32(StateStopped))
			l.setUp(false)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	for _, loop := range loops {
		l.loops.Add(1)
		go func() {
			defer l.loops.Done()
			loop(runCtx)
		}()
	}

	l.startedAt.Store(time.Now().UnixNano())
	l.state.Store(int32(StateRunning))
	l.setUp(true)
	l.logger.Info("%s collector started", l.name)
	return nil
}

// -----------------------------------------------------------------------------

// stop cancels the loops, waits for them up to the grace period, then flushes
// every buffer. Calling it on a stopped collector is a no-op.
func (l *lifecycle) stop(ctx context.Context) error {
	l.transition.Lock()
	defer l.transition.Unlock()

	if l.State() != StateRunning {
		return nil
	}
	l.state.Store(int32(StateStopping))
	l.cancel()

	graceCtx, cancel := context.WithTimeout(ctx, l.opts.StopGrace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-graceCtx.Done():
		l.logger.Warning("%s loops did not exit within %s", l.name, l.opts.StopGrace)
	}

	if l.drain != nil {
		l.drain(time.Now().UTC())
	}
	err := l.flushAll(graceCtx)
	if err != nil {
		l.recordError(err)
	}

	l.state.Store(int32(StateStopped))
	l.setUp(false)
	l.logger.Info("%s collector stopped", l.name)
	return err
}

// -----------------------------------------------------------------------------

// Flush writes every buffer; one failing buffer does not stop the others.
func (l *lifecycle) Flush(ctx context.Context) error {
	return l.flushAll(ctx)
}

func (l *lifecycle) flushAll(ctx context.Context) error {
	var errs []error
	for _, b := range l.buffers {
		if err := b.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushLoop flushes on the buffer interval and whenever a buffer fills up.
func (l *lifecycle) flushLoop(interval time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-l.flushSignal:
			}
			if err := l.flushAll(ctx); err != nil && ctx.Err() == nil {
				l.recordError(err)
				l.logger.Warning("%s flush failed: %v", l.name, err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (l *lifecycle) addSamples(n int) {
	l.samples.Add(uint64(n))
}

func (l *lifecycle) recordError(err error) {
	l.errs.Add(1)
	l.errMu.Lock()
	l.lastErr = err.Error()
	l.errMu.Unlock()
}

func (l *lifecycle) setUp(up bool) {
	if l.opts.Metrics == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	l.opts.Metrics.CollectorUp.WithLabelValues(l.category).Set(v)
}

// stamp returns now, or the previous stamp if the clock went backwards, so
// snapshot timestamps never decrease.
func (l *lifecycle) stamp(now time.Time) time.Time {
	l.stampMu.Lock()
	defer l.stampMu.Unlock()
	if now.Before(l.lastStamp) {
		return l.lastStamp
	}
	l.lastStamp = now
	return now
}

// Status reports lifecycle state and counters.
func (l *lifecycle) Status() models.MCollectorStatus {
	st := models.MCollectorStatus{
		Name:            l.name,
		Category:        l.category,
		State:           l.State().String(),
		SamplesProduced: l.samples.Load(),
		Errors:          l.errs.Load(),
	}
	if l.IsReady() {
		st.UptimeSeconds = time.Since(time.Unix(0, l.startedAt.Load())).Seconds()
	}
	l.errMu.Lock()
	st.LastError = l.lastErr
	l.errMu.Unlock()
	return st
}
