package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
	kit "stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

// Tracker is the subscription API the router drives.
type Tracker interface {
	Begin(subscriberID int64)
	AcceptProductRef(subscriberID int64, ref string) error
	AcceptPostalCode(ctx context.Context, subscriberID int64, code string) (tracker.Subscription, error)
	Session(subscriberID int64) (tracker.State, bool)
	Unsubscribe(subscriberID int64) bool
	QueryStatus(ctx context.Context, subscriberID int64) (storage.Record, bool, error)
	Lookup(subscriberID int64) (tracker.Subscription, bool)
	StorefrontHost() string
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds one handler, including the first probe of a new subscription.
	Timeout  time.Duration
	Location *time.Location
}

// Request is one routed message.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Text    string
	ReqID   string
	Logger  logx.Logger
}

// SubscriberID is the chat the subscription belongs to; notifications go there.
func (r *Request) SubscriberID() int64 { return r.Chat.ChatID }

type Router struct {
	cfg     Config
	log     logx.Logger
	out     kit.Sender
	tracker Tracker

	cmds  []Command
	index map[string]Command
}

func New(cfg Config, out kit.Sender, tr Tracker, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	r := &Router{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "router")),
		out:     out,
		tracker: tr,
	}
	r.cmds = r.commands()
	r.index = make(map[string]Command, len(r.cmds))
	for _, c := range r.cmds {
		r.index[c.Name] = c
	}
	return r
}

// MenuCommands lists the commands for the chat client's command menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		q := make(chan func(), r.cfg.QueueSize)
		queues[i] = q
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			return r.worker(c, q)
		}, 200*time.Millisecond, 5*time.Second)
	}
	r.log.Info("router started", logx.Int("workers", len(queues)), logx.Int("queue_cap", r.cfg.QueueSize))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			q := queues[shard(up.Message.ChatID, len(queues))]
			select {
			case q <- func() { r.Handle(sup.Context(), up) }:
			default:
				r.reply(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "Busy, try again in a moment.")
			}
		}
	}
}

func (r *Router) worker(ctx context.Context, q <-chan func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q:
			if !ok {
				return nil
			}
			job()
		}
	}
}

func shard(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	req := &Request{
		Update: up,
		Chat:   kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID: msg.FromID,
		Text:   text,
		ReqID:  uuid.NewString()[:8],
	}

	var h HandlerFunc
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		req.Command = name
		req.Args = fields[1:]
		cmd, ok := r.index[name]
		if !ok {
			r.reply(ctx, req.Chat, "Unknown command. Try /help")
			return
		}
		h = cmd.Handle
	} else {
		req.Command = "text"
		h = r.handleText
	}
	req.Logger = r.log.With(logx.String("rid", req.ReqID), logx.Int64("from_id", req.FromID))

	final := Chain(h,
		recoverPanics,
		traceEnrollment(r.tracker),
		withDeadline(r.cfg.Timeout),
	)
	if err := final(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
		r.reply(ctx, req.Chat, "⚠️ Something went wrong. Please try again.")
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	r.send(ctx, to, text, false)
}

func (r *Router) replyHTML(ctx context.Context, to kit.ChatTarget, text string) {
	r.send(ctx, to, text, true)
}

func (r *Router) send(ctx context.Context, to kit.ChatTarget, text string, html bool) {
	if r.out == nil {
		return
	}
	opt := &kit.SendOptions{DisablePreview: true}
	if html {
		opt.ParseMode = "HTML"
	}
	if _, err := r.out.SendText(ctx, to, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
