package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "tickrun/internal/runtime/supervisor"
	logx "tickrun/pkg/logx"
)

// Telegram message text limit, in bytes. Longer lines are truncated.
const telegramTextLimit = 4096

var ErrNoChat = errors.New("telegram sink: chat id is zero")

// TelegramConfig configures the chat sink.
type TelegramConfig struct {
	Token      string
	ChatID     int64
	ThreadID   int
	QueueSize  int
	RatePerSec float64
	Timeout    time.Duration
}

func (c TelegramConfig) withDefaults() TelegramConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Sender is the part of *tele.Bot the sink uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts lines to one chat from a background worker.
// Emit never blocks; lines beyond the queue are dropped and counted.
type Telegram struct {
	cfg  TelegramConfig
	log  logx.Logger
	bot  Sender
	lim  *rate.Limiter
	chat *tele.Chat

	mu     sync.Mutex
	closed bool
	queue  chan string
	sup    *rtsup.Supervisor

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewTelegram creates a bot client for cfg.Token and starts the worker.
func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram sink: token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return NewTelegramWithSender(cfg, b, log)
}

// NewTelegramWithSender is NewTelegram with a caller supplied bot.
func NewTelegramWithSender(cfg TelegramConfig, bot Sender, log logx.Logger) (*Telegram, error) {
	if cfg.ChatID == 0 {
		return nil, ErrNoChat
	}
	if bot == nil {
		return nil, errors.New("telegram sink: nil sender")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	t := &Telegram{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "sink.telegram")),
		bot:   bot,
		lim:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		chat:  &tele.Chat{ID: cfg.ChatID},
		queue: make(chan string, cfg.QueueSize),
	}
	t.sup = rtsup.New(context.Background(),
		rtsup.WithLogger(t.log),
		rtsup.WithCancelOnError(false),
	)
	q := t.queue
	t.sup.Go0("worker", func(ctx context.Context) { t.workerLoop(ctx, q) })
	return t, nil
}

func (t *Telegram) Emit(line string) {
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.dropped.Add(1)
		return
	}
	select {
	case t.queue <- line:
	default:
		t.dropped.Add(1)
	}
}

// Close stops intake and lets the worker drain the queue until ctx is done.
// Lines still queued after that are abandoned.
func (t *Telegram) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	err := t.sup.Wait(ctx)
	if err != nil {
		t.sup.Cancel()
	}
	if d := t.dropped.Load(); d > 0 {
		t.log.Warn("telegram.dropped", logx.Uint64("lines", d))
	}
	return err
}

// Stats returns sent, dropped and failed line counts.
func (t *Telegram) Stats() (sent, dropped, failed uint64) {
	return t.sent.Load(), t.dropped.Load(), t.failed.Load()
}

func (t *Telegram) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-q:
			if !ok {
				return
			}
			t.send(ctx, line)
		}
	}
}

func (t *Telegram) send(ctx context.Context, line string) {
	if err := t.lim.Wait(ctx); err != nil {
		return
	}
	if len(line) > telegramTextLimit {
		line = line[:telegramTextLimit]
	}

	// telebot has no per-call context; bound the call from outside.
	errCh := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(t.chat, line, &tele.SendOptions{
			ThreadID:              t.cfg.ThreadID,
			DisableWebPagePreview: true,
		})
		errCh <- err
	}()

	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-errCh:
	case <-timer.C:
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		t.failed.Add(1)
		t.log.Warn("telegram.send_failed", logx.Err(err))
		return
	}
	t.sent.Add(1)
}
