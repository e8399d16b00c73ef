package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/laporan-bot/internal/engine"
)

// Handler turns one inbound event into a reply.
type Handler interface {
	HandleRaw(ctx context.Context, raw engine.RawEvent) engine.Reply
}

// Sender delivers a reply to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, reply engine.Reply) error
}

const (
	defaultMailboxSize = 32
	defaultMailboxIdle = time.Minute
)

// Dispatcher queues updates per user so each user's messages are handled
// in arrival order while different users proceed in parallel.
type Dispatcher struct {
	handler Handler
	sender  Sender
	logger  *slog.Logger

	ctx       context.Context
	idle      time.Duration
	queueSize int

	mu     sync.Mutex
	boxes  map[string]chan inbound
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMailboxSize bounds the per-user backlog.
func WithMailboxSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithMailboxIdle sets how long an empty mailbox worker lingers.
func WithMailboxIdle(idle time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if idle > 0 {
			d.idle = idle
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher. Handling runs under ctx, not under
// the request that delivered the update.
func NewDispatcher(ctx context.Context, h Handler, s Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler:   h,
		sender:    s,
		logger:    slog.Default(),
		ctx:       ctx,
		idle:      defaultMailboxIdle,
		queueSize: defaultMailboxSize,
		boxes:     make(map[string]chan inbound),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit enqueues u. It reports false when the update carries nothing
// to handle, the user's mailbox is full, or the dispatcher is closed.
func (d *Dispatcher) Submit(u tgbotapi.Update) bool {
	in, ok := toInbound(u)
	if !ok {
		return false
	}
	userID := in.raw.UserID

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	box, ok := d.boxes[userID]
	if !ok {
		box = make(chan inbound, d.queueSize)
		d.boxes[userID] = box
		d.wg.Add(1)
		go d.run(userID, box)
	}
	select {
	case box <- in:
		return true
	default:
		d.logger.Warn("telegram mailbox full, dropping update", "user_id", userID, "update_id", u.UpdateID)
		return false
	}
}

func (d *Dispatcher) run(userID string, box chan inbound) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case in, ok := <-box:
			if !ok {
				return
			}
			d.process(in)
			timer.Reset(d.idle)
		case <-timer.C:
			d.mu.Lock()
			if len(box) == 0 && !d.closed {
				delete(d.boxes, userID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) process(in inbound) {
	reply := d.handler.HandleRaw(d.ctx, in.raw)
	if err := d.sender.Send(d.ctx, in.chatID, reply); err != nil {
		d.logger.Error("failed to send telegram reply", "user_id", in.raw.UserID, "error", err)
	}
}

// Close stops accepting updates and waits for queued ones to finish or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for userID, box := range d.boxes {
			close(box)
			delete(d.boxes, userID)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}
