package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"invitebot/internal/config"
	"invitebot/internal/invite"
	"invitebot/internal/services/broadcast"
	"invitebot/internal/settings"
	"invitebot/internal/transport"
	"invitebot/pkg/logx"
	"invitebot/pkg/tgui"
)

// Handlers binds the bot commands to the lifecycle manager and its
// collaborators.
type Handlers struct {
	cfg      config.Config
	adapter  transport.Adapter
	invites  *invite.Manager
	bcast    *broadcast.Service
	settings *settings.Store
	log      logx.Logger
}

func NewHandlers(cfg config.Config, adapter transport.Adapter, invites *invite.Manager, bcast *broadcast.Service, st *settings.Store, log logx.Logger) *Handlers {
	return &Handlers{cfg: cfg, adapter: adapter, invites: invites, bcast: bcast, settings: st, log: log}
}

func (h *Handlers) RegisterAll(m *CommandManager) {
	m.Register(
		Command{
			Name:        "start",
			Description: "about this bot",
			Usage:       "/start",
			Handle:      h.Start,
		},
		Command{
			Name:        "link",
			Description: "generate a temporary invite link",
			Usage:       "/link",
			GroupOnly:   true,
			Timeout:     30 * time.Second,
			Handle:      h.Link,
		},
		Command{
			Name:        "setexpire",
			Description: "set link expiration time in minutes (admin only)",
			Usage:       "/setexpire <minutes>",
			GroupOnly:   true,
			Timeout:     15 * time.Second,
			Handle:      h.SetExpire,
		},
		Command{
			Name:        "broadcast",
			Description: "forward the replied message to active chats (owner only)",
			Usage:       "/broadcast (as a reply)",
			Access:      AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle:      h.Broadcast,
		},
		Command{
			Name:        "stats",
			Description: "bot statistics (owner only)",
			Usage:       "/stats",
			Access:      AccessOwnerOnly,
			Handle:      h.StatsCmd,
		},
		Command{
			Name:        "help",
			Description: "show help",
			Usage:       "/help",
			Handle:      h.Help(m),
		},
	)
	m.OnCallback(h.Callback)
	m.OnJoined(h.Joined)
}

// Start handles /start in private chats: a short intro with an "Add to
// Group" deep link and the optional channel/support buttons.
func (h *Handlers) Start(ctx context.Context, req *Request) error {
	if msg := req.Update.Message; msg != nil && msg.IsGroup {
		return nil
	}

	kb := tgui.NewInline().
		Row(tgui.URLBtn("➕ Add to Group", "https://t.me/"+h.adapter.BotUsername()+"?startgroup=true"))
	if h.cfg.UpdateChannel != "" {
		kb.Row(tgui.URLBtn("\U0001F4E2 Update Channel", "https://t.me/"+h.cfg.UpdateChannel))
	}
	if h.cfg.SupportGroup != "" {
		kb.Row(tgui.URLBtn("\U0001F4AC Support Group", "https://t.me/"+h.cfg.SupportGroup))
	}

	text := "Hello! I'm a bot that generates temporary invite links for groups.\n\n" +
		"Add me to a group and use /link to generate an invite link that expires automatically!\n\n" +
		"Group admins can use /setexpire to configure the expiration time."

	_, err := h.adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{
		DisablePreview:     true,
		ReplyMarkupAdapter: kb.Markup(),
	})
	return err
}

func (h *Handlers) Link(ctx context.Context, req *Request) error {
	// Tidy up the command message; keep going when that is not allowed.
	if msg := req.Update.Message; msg != nil {
		ref := transport.MessageRef{ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: msg.ID}
		if err := h.adapter.DeleteMessage(ctx, ref); err != nil {
			req.Logger.Debug("could not delete command message", logx.Err(err))
		}
	}

	_, err := h.invites.Issue(ctx, req.Chat)
	if err == nil {
		return nil
	}

	text := "Error generating invite link. Please make sure I'm an admin with 'Invite Users' permission."
	if errors.Is(err, invite.ErrNoInvitePermission) {
		text = "I need permission to create invite links! Please make me an admin with 'Invite Users' permission."
	}
	req.Logger.Warn("link issue failed", logx.Err(err))
	_, _ = h.adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return nil
}

func (h *Handlers) SetExpire(ctx context.Context, req *Request) error {
	member, err := h.adapter.MemberOf(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		req.Logger.Warn("admin check failed", logx.Err(err))
		_, _ = h.adapter.SendText(ctx, req.Chat, "Error checking admin status.", nil)
		return nil
	}
	if !member.IsAdmin() {
		_, _ = h.adapter.SendText(ctx, req.Chat, "You need to be an admin to use this command!", nil)
		return nil
	}

	if len(req.Args) == 0 {
		_, _ = h.adapter.SendText(ctx, req.Chat, "Usage: /setexpire <minutes>", nil)
		return nil
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil {
		_, _ = h.adapter.SendText(ctx, req.Chat, "Please enter a valid number", nil)
		return nil
	}

	if err := h.settings.SetExpire(ctx, req.Chat.ChatID, time.Duration(minutes)*time.Minute); err != nil {
		if errors.Is(err, settings.ErrOutOfRange) {
			_, _ = h.adapter.SendText(ctx, req.Chat, "Please enter a value between 1-60 minutes", nil)
			return nil
		}
		return err
	}

	_, _ = h.adapter.SendText(ctx, req.Chat, fmt.Sprintf("Expire time set to %d minutes", minutes), nil)
	return nil
}

// Broadcast forwards the replied-to message to every chat holding an active
// invite record, then reports the tally to the invoking owner privately.
func (h *Handlers) Broadcast(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if msg == nil || msg.ReplyToID == 0 {
		_, _ = h.adapter.SendText(ctx, req.Chat, "Please reply to a message with /broadcast to broadcast it.", nil)
		return nil
	}

	targets := h.invites.ActiveTargets()
	tally := h.bcast.Forward(ctx, msg.ChatID, msg.ReplyToID, targets)
	h.invites.MarkBroadcast()

	report := fmt.Sprintf("Broadcast completed!\n\nSuccess: %d\nFailed: %d", tally.Success, tally.Failed)
	_, err := h.adapter.SendText(ctx, transport.ChatTarget{ChatID: req.FromID}, report, &transport.SendOptions{DisablePreview: true})
	return err
}

func (h *Handlers) StatsCmd(ctx context.Context, req *Request) error {
	snap := h.invites.Stats()
	text := fmt.Sprintf(
		"\U0001F4CA Bot Statistics\n\n"+
			"• Active Groups: %d\n"+
			"• Total Groups Served: %d\n"+
			"• Links Generated: %d\n"+
			"• Broadcasts Sent: %d\n\n"+
			"• Uptime: %s",
		h.invites.ActiveCount(), snap.ChatsServed, snap.LinksIssued, snap.BroadcastsSent,
		snap.Uptime.Round(time.Second),
	)
	_, err := h.adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func (h *Handlers) Help(m *CommandManager) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		var b strings.Builder
		b.WriteString("Commands:\n")
		for _, c := range m.Commands() {
			b.WriteString("/" + c.Name)
			if c.Description != "" {
				b.WriteString(" - " + c.Description)
			}
			b.WriteString("\n")
		}
		_, err := h.adapter.SendText(ctx, req.Chat, b.String(), &transport.SendOptions{DisablePreview: true})
		return err
	}
}

// Callback handles inline button presses; the only action is "Revoke Now".
func (h *Handlers) Callback(ctx context.Context, req *Request) error {
	chatID, ok := invite.ParseRevokeData(req.Payload)
	if !ok {
		return nil
	}
	if !h.invites.Revoke(ctx, chatID, invite.TriggerManual) {
		req.Logger.Debug("revoke pressed for inactive link", logx.Int64("target_chat", chatID))
	}
	return nil
}

// Joined greets a group when the bot itself was added to it.
func (h *Handlers) Joined(ctx context.Context, j *transport.Joined) {
	me := h.adapter.BotID()
	added := false
	for _, id := range j.UserIDs {
		if id == me {
			added = true
			break
		}
	}
	if !added {
		return
	}

	kb := tgui.NewInline()
	hasRows := false
	if h.cfg.UpdateChannel != "" {
		kb.Row(tgui.URLBtn("\U0001F4E2 Update Channel", "https://t.me/"+h.cfg.UpdateChannel))
		hasRows = true
	}
	if h.cfg.SupportGroup != "" {
		kb.Row(tgui.URLBtn("\U0001F4AC Support Group", "https://t.me/"+h.cfg.SupportGroup))
		hasRows = true
	}

	text := "Thanks for adding me to this group!\n\n" +
		"I can generate temporary invite links with auto-expiration.\n\n" +
		"Commands:\n" +
		"/link - Generate a temporary invite link\n" +
		"/setexpire <minutes> - Set link expiration time (admin only)\n\n" +
		"To generate a link, just type /link in the group chat!"

	opt := &transport.SendOptions{DisablePreview: true}
	if hasRows {
		opt.ReplyMarkupAdapter = kb.Markup()
	}
	to := transport.ChatTarget{ChatID: j.ChatID, ThreadID: j.ThreadID}
	if _, err := h.adapter.SendText(ctx, to, text, opt); err != nil {
		h.log.Warn("welcome message failed", logx.Int64("chat_id", j.ChatID), logx.Err(err))
	}
}
