package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"invitebot/internal/transport"
	"invitebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// WebhookURL switches the adapter to webhook mode when non-empty. The
	// webhook poller does not listen by itself; mount WebhookHandler() into
	// the process HTTP server at the path "/<token>".
	WebhookURL string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	webhook   *tele.Webhook
	bot       *tele.Bot
	out       chan<- transport.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var poller tele.Poller
	var wh *tele.Webhook
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		wh = &tele.Webhook{
			Endpoint: &tele.WebhookEndpoint{PublicURL: strings.TrimRight(cfg.WebhookURL, "/") + "/" + cfg.Token},
		}
		poller = wh
	} else {
		poller = &tele.LongPoller{Timeout: timeout}
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: poller,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, webhook: wh}, nil
}

// WebhookHandler returns the HTTP handler receiving platform updates, or nil
// in long-poll mode.
func (a *Adapter) WebhookHandler() http.Handler {
	if a.webhook == nil {
		return nil
	}
	return a.webhook
}

func (a *Adapter) BotID() int64 {
	if a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

func (a *Adapter) BotUsername() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		up := transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFrom(m),
		}
		a.push(up)
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		var ids []int64
		for _, u := range m.UsersJoined {
			ids = append(ids, u.ID)
		}
		if m.UserJoined != nil {
			ids = append(ids, m.UserJoined.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		up := transport.Update{
			Kind: transport.UpdateJoined,
			Joined: &transport.Joined{
				ChatID:   m.Chat.ID,
				ThreadID: m.ThreadID,
				UserIDs:  ids,
			},
		}
		a.push(up)
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		up := transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				ThreadID:  m.ThreadID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		}
		a.push(up)
		return nil
	})

	go func() {
		defer a.runWG.Done()
		// Ensure we stop telebot when context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		if a.webhook != nil {
			a.log.Info("webhook transport started")
		} else {
			a.log.Info("polling started")
		}
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) push(up transport.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("transport stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("transport stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		sendOpt.ReplyMarkup = rm
	}

	msg, err := a.bot.Send(chat, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		sendOpt.ReplyMarkup = rm
	}
	_, err := a.bot.Edit(stored(ref.ChatID, ref.MessageID), text, sendOpt)
	return err
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return a.bot.Delete(stored(ref.ChatID, ref.MessageID))
}

func (a *Adapter) ForwardMessage(ctx context.Context, to transport.ChatTarget, fromChatID int64, messageID int) error {
	_, err := a.bot.Forward(&tele.Chat{ID: to.ChatID}, stored(fromChatID, messageID))
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) CreateInviteLink(ctx context.Context, chatID int64, name string, expiresAt time.Time) (string, error) {
	link, err := a.bot.CreateInviteLink(&tele.Chat{ID: chatID}, &tele.ChatInviteLink{
		Name:           name,
		ExpireUnixtime: expiresAt.Unix(),
		MemberLimit:    1,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

func (a *Adapter) MemberOf(ctx context.Context, chatID, userID int64) (transport.Member, error) {
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return transport.Member{}, err
	}
	m := transport.Member{Role: string(cm.Role)}
	// Chat owners carry full rights implicitly.
	m.CanInviteUsers = cm.Rights.CanInviteUsers || cm.Role == tele.Creator
	return m, nil
}

func messageFrom(m *tele.Message) *transport.Message {
	out := &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		IsGroup:      m.Chat.Type != tele.ChatPrivate,
	}
	if m.ReplyTo != nil {
		out.ReplyToID = m.ReplyTo.ID
	}
	return out
}

func stored(chatID int64, messageID int) tele.Editable {
	return &tele.StoredMessage{ChatID: chatID, MessageID: strconv.Itoa(messageID)}
}
