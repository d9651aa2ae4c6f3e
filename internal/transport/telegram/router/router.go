package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// Reminders is the part of reminder.Service the commands drive.
type Reminders interface {
	Register(ctx context.Context, id int64, username string) (reminder.User, error)
	Create(ctx context.Context, req reminder.CreateRequest) (reminder.Event, error)
	Delete(ctx context.Context, id int64) (reminder.Event, error)
	Enable(ctx context.Context, id int64) (reminder.Event, error)
	Disable(ctx context.Context, id int64) (reminder.Event, error)
	List(ctx context.Context, typ reminder.Type) ([]reminder.Entry, error)
	Location() *time.Location
}

type Config struct {
	CommandTimeout time.Duration
	// MaxInFlight bounds concurrently running commands.
	MaxInFlight int
	Now         func() time.Time
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Chat         transport.ChatTarget
	MessageID    int
	FromID       int64
	FromUsername string
	Command      string
	Usage        string
	Args         string
	Logger       logx.Logger
}

// Router parses slash commands from incoming updates and runs each one as a
// supervised goroutine with its own deadline.
type Router struct {
	svc     Reminders
	adapter transport.Adapter
	log     logx.Logger
	now     func() time.Time

	mu      sync.RWMutex
	timeout time.Duration

	cmds  []Command
	index map[string]*Command
	slots chan struct{}
}

func New(cfg Config, svc Reminders, adapter transport.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 32
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Router{
		svc:     svc,
		adapter: adapter,
		log:     log.With(logx.String("comp", "telegram.router")),
		now:     cfg.Now,
		timeout: cfg.CommandTimeout,
		slots:   make(chan struct{}, cfg.MaxInFlight),
	}
	r.setCommands(r.commands())
	return r
}

func (r *Router) setCommands(cmds []Command) {
	r.cmds = cmds
	r.index = make(map[string]*Command, len(cmds)*2)
	for i := range cmds {
		c := &r.cmds[i]
		r.index[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := r.index[a]; !taken {
				r.index[a] = c
			}
		}
	}
}

// SetCommandTimeout changes the per-command deadline for new commands.
func (r *Router) SetCommandTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Router) commandTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}

// Run dispatches updates until ctx is done or updates is closed, then waits
// briefly for running commands.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("max_in_flight", cap(r.slots)))
	defer func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(sup, up)
		}
	}
}

func (r *Router) dispatch(sup *rtsup.Supervisor, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := r.index[name]
	if !ok {
		r.send(sup.Context(), chat, msg.ID, "Unknown command. Try /help")
		return
	}

	req := &Request{
		Chat:         chat,
		MessageID:    msg.ID,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Usage:        cmd.Usage,
		Args:         args,
		Logger: r.log.With(
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	select {
	case r.slots <- struct{}{}:
	default:
		r.send(sup.Context(), chat, msg.ID, "Busy, try again")
		return
	}

	final := Chain(cmd.Handle,
		MWRequestLog(),
		MWReplyError(r.reply),
		MWPanicRecover(),
		MWTimeout(r.commandTimeout()),
	)
	// Failures are answered and logged by the chain; none of them concern
	// the dispatcher.
	sup.Go("command."+cmd.Name, func(ctx context.Context) error {
		defer func() { <-r.slots }()
		_ = final(ctx, req)
		return nil
	})
}

// reply answers the request's message. Delivery failures are only logged.
func (r *Router) reply(ctx context.Context, req *Request, text string) {
	r.send(ctx, req.Chat, req.MessageID, text)
}

func (r *Router) send(ctx context.Context, to transport.ChatTarget, replyTo int, text string) {
	// The command deadline may already be spent.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := r.adapter.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true, ReplyTo: replyTo}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// parseCommand splits "/name[@bot] args". Names are case-insensitive.
func parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}
