package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"invitebot/internal/config"
	"invitebot/internal/invite"
	"invitebot/internal/services/broadcast"
	"invitebot/internal/settings"
	"invitebot/internal/transport"
	"invitebot/pkg/logx"
)

type handlerFake struct {
	mu sync.Mutex

	member    transport.Member
	memberErr error

	createErr error

	sent      []string
	sentTo    []int64
	forwarded []int64
	fwdFail   map[int64]bool
	deleted   int
}

func (f *handlerFake) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *handlerFake) Stop(context.Context) error                           { return nil }
func (f *handlerFake) BotID() int64                                         { return 42 }
func (f *handlerFake) BotUsername() string                                  { return "testbot" }

func (f *handlerFake) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.sentTo = append(f.sentTo, to.ChatID)
	f.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *handlerFake) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *handlerFake) DeleteMessage(context.Context, transport.MessageRef) error {
	f.mu.Lock()
	f.deleted++
	f.mu.Unlock()
	return nil
}

func (f *handlerFake) ForwardMessage(_ context.Context, to transport.ChatTarget, _ int64, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, to.ChatID)
	if f.fwdFail[to.ChatID] {
		return errors.New("blocked")
	}
	return nil
}

func (f *handlerFake) AnswerCallback(context.Context, string, string) error { return nil }

func (f *handlerFake) CreateInviteLink(context.Context, int64, string, time.Time) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "https://t.me/+xyz", nil
}

func (f *handlerFake) MemberOf(context.Context, int64, int64) (transport.Member, error) {
	return f.member, f.memberErr
}

func (f *handlerFake) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type noopSched struct{}

func (noopSched) AddOnce(string, time.Duration, func(ctx context.Context)) {}
func (noopSched) RemoveOnce(string) bool                                  { return false }

func newTestHandlers(t *testing.T, fake *handlerFake) (*Handlers, *invite.Manager, *settings.Store) {
	t.Helper()
	st, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"), 5*time.Minute, logx.Nop())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	invites := invite.NewManager(fake, noopSched{}, st, logx.Nop())
	bcast := broadcast.New(broadcast.Config{RatePerSec: 1000}, fake, logx.Nop())
	h := NewHandlers(config.Config{}, fake, invites, bcast, st, logx.Nop())
	return h, invites, st
}

func groupReq(text string, fromID int64) *Request {
	msg := &transport.Message{ID: 9, ChatID: -100, FromID: fromID, Text: text, IsGroup: true}
	parts := strings.Fields(text)
	return &Request{
		Update: transport.Update{Kind: transport.UpdateMessage, Message: msg},
		Chat:   transport.ChatTarget{ChatID: -100},
		FromID: fromID,
		Args:   parts[1:],
	}
}

func TestLinkDeletesCommandAndAnnounces(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "administrator", CanInviteUsers: true}}
	h, invites, _ := newTestHandlers(t, fake)

	if err := h.Link(context.Background(), groupReq("/link", 1)); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if fake.deleted != 1 {
		t.Errorf("command message deleted %d times, want 1", fake.deleted)
	}
	if invites.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", invites.ActiveCount())
	}
	if got := fake.lastSent(); !strings.Contains(got, "https://t.me/+xyz") {
		t.Errorf("announcement = %q", got)
	}
}

func TestLinkWithoutPermissionReplies(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "member"}}
	h, invites, _ := newTestHandlers(t, fake)

	if err := h.Link(context.Background(), groupReq("/link", 1)); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if invites.ActiveCount() != 0 {
		t.Error("record created without permission")
	}
	want := "I need permission to create invite links! Please make me an admin with 'Invite Users' permission."
	if got := fake.lastSent(); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestLinkGenericFailureReplies(t *testing.T) {
	fake := &handlerFake{
		member:    transport.Member{Role: "administrator", CanInviteUsers: true},
		createErr: errors.New("api down"),
	}
	h, _, _ := newTestHandlers(t, fake)

	if err := h.Link(context.Background(), groupReq("/link", 1)); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if got := fake.lastSent(); !strings.HasPrefix(got, "Error generating invite link.") {
		t.Errorf("reply = %q", got)
	}
}

func TestSetExpireRequiresAdmin(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "member"}}
	h, _, st := newTestHandlers(t, fake)

	if err := h.SetExpire(context.Background(), groupReq("/setexpire 10", 1)); err != nil {
		t.Fatalf("SetExpire: %v", err)
	}
	if got := fake.lastSent(); got != "You need to be an admin to use this command!" {
		t.Errorf("reply = %q", got)
	}
	if d := st.ExpireFor(context.Background(), -100); d != 5*time.Minute {
		t.Errorf("override written anyway: %v", d)
	}
}

func TestSetExpireFlows(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "administrator"}}
	h, _, st := newTestHandlers(t, fake)
	ctx := context.Background()

	cases := []struct {
		text string
		want string
	}{
		{"/setexpire", "Usage: /setexpire <minutes>"},
		{"/setexpire soon", "Please enter a valid number"},
		{"/setexpire 0", "Please enter a value between 1-60 minutes"},
		{"/setexpire 61", "Please enter a value between 1-60 minutes"},
		{"/setexpire 10", "Expire time set to 10 minutes"},
	}
	for _, c := range cases {
		if err := h.SetExpire(ctx, groupReq(c.text, 1)); err != nil {
			t.Fatalf("%q: %v", c.text, err)
		}
		if got := fake.lastSent(); got != c.want {
			t.Errorf("%q: reply = %q, want %q", c.text, got, c.want)
		}
	}
	if d := st.ExpireFor(ctx, -100); d != 10*time.Minute {
		t.Errorf("override = %v, want 10m", d)
	}
}

func TestBroadcastRequiresReply(t *testing.T) {
	fake := &handlerFake{}
	h, _, _ := newTestHandlers(t, fake)

	if err := h.Broadcast(context.Background(), groupReq("/broadcast", 7)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := fake.lastSent(); got != "Please reply to a message with /broadcast to broadcast it." {
		t.Errorf("reply = %q", got)
	}
}

func TestBroadcastForwardsToActiveChats(t *testing.T) {
	fake := &handlerFake{
		member:  transport.Member{Role: "administrator", CanInviteUsers: true},
		fwdFail: map[int64]bool{-100: true},
	}
	h, invites, _ := newTestHandlers(t, fake)
	ctx := context.Background()

	if _, err := invites.Issue(ctx, transport.ChatTarget{ChatID: -100}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := invites.Issue(ctx, transport.ChatTarget{ChatID: -200}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := groupReq("/broadcast", 7)
	req.Update.Message.ReplyToID = 3
	if err := h.Broadcast(ctx, req); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if len(fake.forwarded) != 2 {
		t.Fatalf("forwarded to %d chats, want 2", len(fake.forwarded))
	}
	got := fake.lastSent()
	if got != "Broadcast completed!\n\nSuccess: 1\nFailed: 1" {
		t.Errorf("report = %q", got)
	}
	fake.mu.Lock()
	reportTo := fake.sentTo[len(fake.sentTo)-1]
	fake.mu.Unlock()
	if reportTo != 7 {
		t.Errorf("report sent to chat %d, want the owner's private chat 7", reportTo)
	}
	if invites.Stats().BroadcastsSent != 1 {
		t.Errorf("BroadcastsSent = %d, want 1", invites.Stats().BroadcastsSent)
	}
}

func TestCallbackRevokesLink(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "administrator", CanInviteUsers: true}}
	h, invites, _ := newTestHandlers(t, fake)
	ctx := context.Background()

	if _, err := invites.Issue(ctx, transport.ChatTarget{ChatID: -100}); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := &Request{Payload: invite.RevokeData(-100), Logger: logx.Nop()}
	if err := h.Callback(ctx, req); err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if invites.ActiveCount() != 0 {
		t.Error("link still active after revoke callback")
	}

	// Second press must be a quiet no-op.
	if err := h.Callback(ctx, req); err != nil {
		t.Fatalf("second Callback: %v", err)
	}
}

func TestJoinedGreetsOnlyWhenBotAdded(t *testing.T) {
	fake := &handlerFake{}
	h, _, _ := newTestHandlers(t, fake)
	ctx := context.Background()

	h.Joined(ctx, &transport.Joined{ChatID: -100, UserIDs: []int64{1, 2}})
	if len(fake.sent) != 0 {
		t.Fatalf("greeted for unrelated members: %v", fake.sent)
	}

	h.Joined(ctx, &transport.Joined{ChatID: -100, UserIDs: []int64{1, 42}})
	if got := fake.lastSent(); !strings.HasPrefix(got, "Thanks for adding me to this group!") {
		t.Errorf("greeting = %q", got)
	}
}

func TestStatsCommandFormat(t *testing.T) {
	fake := &handlerFake{member: transport.Member{Role: "administrator", CanInviteUsers: true}}
	h, invites, _ := newTestHandlers(t, fake)
	ctx := context.Background()

	invites.Issue(ctx, transport.ChatTarget{ChatID: -100})
	if err := h.StatsCmd(ctx, groupReq("/stats", 7)); err != nil {
		t.Fatalf("StatsCmd: %v", err)
	}
	got := fake.lastSent()
	for _, frag := range []string{"Active Groups: 1", "Total Groups Served: 1", "Links Generated: 1", "Broadcasts Sent: 0", "Uptime:"} {
		if !strings.Contains(got, frag) {
			t.Errorf("stats reply missing %q:\n%s", frag, got)
		}
	}
}
