package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// Sink receives award commands for processing.
type Sink interface {
	Submit(ctx context.Context, cmd domain.AwardCommand) error
}

// DispatcherConfig sizes the award worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// Dispatcher hands award commands to a pool of workers that forward them to
// a Sink. When the pool is saturated or stopped the command is submitted on
// the caller's goroutine.
type Dispatcher struct {
	sink Sink
	log  *log.Logger
	cfg  DispatcherConfig
	now  func() time.Time

	jobs      chan domain.AwardCommand
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts cfg.Workers workers feeding sink.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if sink == nil {
		panic("progress.NewDispatcher: sink is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	d := &Dispatcher{
		sink: sink,
		log:  logger,
		cfg:  cfg,
		now:  time.Now,
		jobs: make(chan domain.AwardCommand, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("award dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return d
}

// Award queues a completion credit for userID. It never blocks for longer
// than the handoff timeout unless it falls back to submitting inline.
func (d *Dispatcher) Award(ctx context.Context, userID string, p domain.Priority) {
	cmd := domain.AwardCommand{
		ID:        uuid.NewString(),
		UserID:    userID,
		Priority:  p,
		Timestamp: d.now().UnixMilli(),
	}
	if d.tryEnqueue(cmd) {
		return
	}
	d.log.WithField("user", userID).Warn("award pool saturated, submitting inline")
	d.submit(ctx, cmd, -1)
}

// Close stops accepting work and waits for queued commands to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for cmd := range d.jobs {
		d.submit(context.Background(), cmd, id)
	}
}

func (d *Dispatcher) submit(ctx context.Context, cmd domain.AwardCommand, worker int) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if err := d.sink.Submit(ctx, cmd); err != nil {
		d.log.WithFields(log.Fields{"user": cmd.UserID, "award": cmd.ID, "worker": worker, "error": err}).Error("award failed")
	}
}

func (d *Dispatcher) tryEnqueue(cmd domain.AwardCommand) bool {
	if ok, closed := trySendNonBlocking(d.jobs, cmd); closed {
		return false
	} else if ok {
		return true
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()

	ok, _ := sendWithTimer(d.jobs, cmd, timer.C)
	return ok
}

func trySendNonBlocking(ch chan domain.AwardCommand, cmd domain.AwardCommand) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- cmd:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.AwardCommand, cmd domain.AwardCommand, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- cmd:
		return true, false
	case <-timer:
		return false, false
	}
}
