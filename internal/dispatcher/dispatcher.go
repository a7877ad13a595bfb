package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	obscontext "github.com/smallbiznis/orderhub/internal/observability/context"
	"github.com/smallbiznis/orderhub/internal/observability/logger"
	"github.com/smallbiznis/orderhub/internal/observability/metrics"
	subdomain "github.com/smallbiznis/orderhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler consumes events on behalf of one named subscriber. Handle must be
// idempotent per event id: the dispatcher delivers at least once.
type Handler interface {
	SubscriberName() string
	Handle(ctx context.Context, event eventdomain.StoredEvent) error
}

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	Events        eventdomain.Service
	Subscriptions subdomain.Service
	Config        Config        `optional:"true"`
	Holder        *ConfigHolder `optional:"true"`
	Locker        *Locker       `optional:"true"`
	Handlers      []Handler     `group:"event_handlers"`
}

// Dispatcher polls the event log and delivers new events to registered
// handlers, one subscriber at a time, in sequence order.
type Dispatcher struct {
	log           *zap.Logger
	clock         clock.Clock
	genID         *snowflake.Node
	events        eventdomain.Service
	subscriptions subdomain.Service
	cfg           Config
	holder        *ConfigHolder
	locker        *Locker
	gate          *subscriberGate
	handlers      []Handler
}

func New(p Params) (*Dispatcher, error) {
	if p.Log == nil {
		return nil, errors.New("dispatcher requires a logger")
	}
	if p.Clock == nil {
		return nil, errors.New("dispatcher requires a clock")
	}
	if p.GenID == nil {
		return nil, errors.New("dispatcher requires an id generator")
	}
	if p.Events == nil || p.Subscriptions == nil {
		return nil, errors.New("dispatcher requires event and subscription services")
	}

	seen := make(map[string]struct{}, len(p.Handlers))
	for _, h := range p.Handlers {
		name := h.SubscriberName()
		if name == "" {
			return nil, errors.New("handler has an empty subscriber name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate handler for subscriber %s", name)
		}
		seen[name] = struct{}{}
	}

	return &Dispatcher{
		log:           p.Log.Named("dispatcher"),
		clock:         p.Clock,
		genID:         p.GenID,
		events:        p.Events,
		subscriptions: p.Subscriptions,
		cfg:           p.Config.withDefaults(),
		holder:        p.Holder,
		locker:        p.Locker,
		gate:          newSubscriberGate(),
		handlers:      p.Handlers,
	}, nil
}

func (d *Dispatcher) config() Config {
	if d.holder != nil {
		return d.holder.Get()
	}
	return d.cfg
}

// RunOnce executes one dispatch cycle for every enabled subscriber. A failing
// subscriber never blocks the others; their errors are joined.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	cfg := d.config()

	var errs []error
	for _, h := range d.handlers {
		name := h.SubscriberName()
		if !cfg.isSubscriberEnabled(name) {
			continue
		}
		if err := d.runCycle(ctx, h, cfg); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RunForever polls on the configured interval until ctx is cancelled. Interval
// changes from the config holder take effect on the next tick.
func (d *Dispatcher) RunForever(ctx context.Context) {
	interval := d.config().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", zap.Duration("interval", interval))
	expected := d.clock.Now().Add(interval)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			metrics.Dispatcher().ObserveRunLoopLag(d.clock.Now().Sub(expected))
			if err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Warn("dispatch run finished with errors", zap.Error(err))
			}
			if next := d.config().RunInterval; next != interval {
				d.log.Info("dispatch interval updated",
					zap.Duration("previous", interval),
					zap.Duration("current", next),
				)
				interval = next
				ticker.Reset(interval)
			}
			expected = d.clock.Now().Add(interval)
		}
	}
}

func (d *Dispatcher) runCycle(parent context.Context, h Handler, cfg Config) error {
	name := h.SubscriberName()
	m := metrics.Dispatcher()

	release, ok := d.gate.tryAcquire(name)
	if !ok {
		m.IncLockContended(name)
		return nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, cfg.CycleTimeout)
	defer cancel()
	ctx = obscontext.WithSubscriber(ctx, name)

	runID := d.genID.Generate().String()
	log := logger.WithContext(ctx, d.log).With(zap.String("dispatch_run_id", runID))

	lockKey := "orderhub:dispatch:" + name
	token, acquired, err := d.locker.TryLock(ctx, lockKey, cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		m.IncLockContended(name)
		log.Debug("dispatch lock held elsewhere")
		return nil
	}
	defer func() {
		if rErr := d.locker.Release(context.WithoutCancel(ctx), lockKey, token); rErr != nil {
			log.Warn("dispatch lock release failed", zap.Error(rErr))
		}
	}()

	m.IncCycleRun(name)
	start := d.clock.Now()
	applied, skipped, err := d.dispatchBatch(ctx, h, name, cfg, log)
	duration := d.clock.Now().Sub(start)

	m.ObserveCycleDuration(name, duration)
	m.AddEventsApplied(name, applied)
	m.AddEventsSkipped(name, skipped)

	if err != nil {
		m.IncCycleError(name, err)
		log.Error("dispatch cycle failed",
			zap.Int("events_applied", applied),
			zap.Int("events_skipped", skipped),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	if applied > 0 || skipped > 0 {
		log.Info("dispatch cycle complete",
			zap.Int("events_applied", applied),
			zap.Int("events_skipped", skipped),
			zap.Duration("duration", duration),
		)
	}
	return nil
}

// dispatchBatch walks one batch of events past the subscriber cursor in
// sequence order. Consumption stops at the first event that neither applies
// nor settles; everything before it is already durable.
func (d *Dispatcher) dispatchBatch(ctx context.Context, h Handler, name string, cfg Config, log *zap.Logger) (applied, skipped int, err error) {
	cursor, err := d.subscriptions.CursorOf(ctx, name)
	if errors.Is(err, subdomain.ErrNotFound) {
		sub, rErr := d.subscriptions.Register(ctx, name)
		if rErr != nil {
			return 0, 0, rErr
		}
		cursor = sub.LastProcessedSequence
		err = nil
	}
	if err != nil {
		return 0, 0, err
	}

	events, err := d.events.ReadAfter(ctx, cursor, cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(events) == 0 {
		metrics.Dispatcher().SetCursorLag(name, 0)
		return 0, 0, nil
	}

	ids := make([]snowflake.ID, len(events))
	for i, event := range events {
		ids[i] = event.EventID
	}
	settled, err := d.subscriptions.SettledEntries(ctx, name, ids)
	if err != nil {
		return 0, 0, err
	}

	// consumed tracks the highest contiguously consumed sequence; advanced
	// tracks how far the stored cursor already moved with it.
	consumed := cursor
	advanced := cursor

	for _, event := range events {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}

		if _, done := settled[event.EventID]; done {
			skipped++
			consumed = event.SequenceNumber
			continue
		}

		handleErr := d.invoke(ctx, h, event)
		if handleErr == nil {
			if mErr := d.subscriptions.MarkProcessed(ctx, name, event.EventID, event.SequenceNumber); mErr != nil {
				err = mErr
				break
			}
			applied++
			consumed = event.SequenceNumber
			advanced = event.SequenceNumber
			continue
		}

		metrics.Dispatcher().IncHandlerFailure(name, handleErr)
		attempts, fErr := d.subscriptions.RecordFailure(ctx, name, event.EventID, handleErr)
		if fErr != nil {
			err = fErr
			break
		}
		log.Warn("event handler failed",
			zap.Int64("sequence_number", event.SequenceNumber),
			zap.String("event_id", event.EventID.String()),
			zap.String("event_type", event.EventType),
			zap.Int("attempts", attempts),
			zap.Error(handleErr),
		)

		if attempts >= cfg.PoisonThreshold {
			metrics.Dispatcher().IncPoisonEvent(name)
			if cfg.DeadLetterEnabled {
				if dErr := d.subscriptions.MarkDeadLetter(ctx, name, event.EventID, event.SequenceNumber); dErr != nil {
					err = dErr
					break
				}
				metrics.Dispatcher().IncDeadLettered(name)
				log.Error("event dead lettered",
					zap.Int64("sequence_number", event.SequenceNumber),
					zap.String("event_id", event.EventID.String()),
					zap.Int("attempts", attempts),
				)
				consumed = event.SequenceNumber
				advanced = event.SequenceNumber
				continue
			}
			log.Error("poison event blocks subscriber",
				zap.Int64("sequence_number", event.SequenceNumber),
				zap.String("event_id", event.EventID.String()),
				zap.Int("attempts", attempts),
			)
		}
		break
	}

	// A trailing run of already-settled events moves consumed without any
	// MarkProcessed advancing the cursor for it.
	if consumed > advanced {
		if aErr := d.subscriptions.Advance(ctx, nil, name, consumed); aErr != nil && err == nil {
			err = aErr
		}
	}

	if head, hErr := d.events.Head(ctx); hErr == nil {
		metrics.Dispatcher().SetCursorLag(name, head-consumed)
	}
	return applied, skipped, err
}

// invoke shields the dispatch loop from handler panics.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, event eventdomain.StoredEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}
