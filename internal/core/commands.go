package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"invitebot/internal/transport"
	"invitebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	// GroupOnly commands are rejected in private chats.
	GroupOnly bool
	Timeout   time.Duration
	Handle    HandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback data (callback requests only)
	ReqID   string

	Logger logx.Logger
}

// CallbackFunc handles inline button presses. The manager answers the
// callback afterwards to stop the client's loading spinner.
type CallbackFunc func(ctx context.Context, req *Request) error

// JoinedFunc handles member-joined events.
type JoinedFunc func(ctx context.Context, j *transport.Joined)

// CommandManager routes updates from the transport channel to handlers
// through a bounded worker pool, applying access checks and the middleware
// chain (panic recovery, request log, timeout).
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	owners []int64

	onCallback CallbackFunc
	onJoined   JoinedFunc

	log     logx.Logger
	adapter transport.Adapter

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter transport.Adapter, owners []int64) *CommandManager {
	return &CommandManager{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		if _, exists := m.cmds[name]; !exists {
			m.order = append(m.order, name)
		}
		c.Name = name
		m.cmds[name] = c
	}
}

func (m *CommandManager) OnCallback(fn CallbackFunc) { m.onCallback = fn }
func (m *CommandManager) OnJoined(fn JoinedFunc)     { m.onJoined = fn }

// Commands lists registered commands in registration order (for /help).
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.cmds[name])
	}
	return out
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() {
		closeOnce.Do(func() { close(m.jobs) })
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		m.routeMessage(root, up)
	case transport.UpdateCallback:
		m.routeCallback(root, up)
	case transport.UpdateJoined:
		if m.onJoined != nil && up.Joined != nil {
			j := up.Joined
			m.enqueue(root, transport.ChatTarget{ChatID: j.ChatID, ThreadID: j.ThreadID}, func() {
				m.onJoined(root, j)
			})
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		// Stay quiet in groups; unknown slash traffic there is not ours.
		if !msg.IsGroup {
			to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
			_, _ = m.adapter.SendText(root, to, "Unknown command. Try /help", nil)
		}
		return
	}

	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.GroupOnly && !msg.IsGroup {
		_, _ = m.adapter.SendText(root, chat, "This command only works in groups!", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		_, _ = m.adapter.SendText(root, chat, "You are not authorized to use this command!", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	m.enqueue(root, chat, func() { _ = final(root, req) })
}

func (m *CommandManager) routeCallback(root context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil || m.onCallback == nil {
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: "cb:" + cb.Data,
		Payload: cb.Data,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+cb.Data),
		),
	}

	final := Chain(
		func(ctx context.Context, r *Request) error { return m.onCallback(ctx, r) },
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
	)
	m.enqueue(root, req.Chat, func() {
		_ = final(root, req)
		// Best-effort to stop the "loading" UI.
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
	})
}

func (m *CommandManager) enqueue(root context.Context, chat transport.ChatTarget, job func()) {
	select {
	case m.jobs <- job:
	default:
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	return uuid.NewString()[:8]
}
