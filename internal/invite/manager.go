// Package invite implements the temporary invite-link lifecycle: minting a
// time-boxed single-use link, announcing it with a revoke button, and
// guaranteeing exactly-once cleanup on expiry or manual revocation.
package invite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"invitebot/internal/transport"
	"invitebot/pkg/logx"
	"invitebot/pkg/tgui"
)

var (
	// ErrNoInvitePermission means the bot lacks the "invite users" right.
	ErrNoInvitePermission = errors.New("bot has no invite permission")
	// ErrNoActiveLink means a revoke was requested for a chat without a record.
	ErrNoActiveLink = errors.New("no active invite link")
)

// Trigger says who asked for a revocation.
type Trigger int

const (
	TriggerExpiry Trigger = iota
	TriggerManual
)

func (t Trigger) String() string {
	if t == TriggerManual {
		return "manual"
	}
	return "expiry"
}

// ExpiryScheduler is the deferred-trigger port. AddOnce replaces any pending
// trigger with the same name; RemoveOnce is best-effort (correctness never
// depends on it, revocation no-ops on a missing record regardless).
type ExpiryScheduler interface {
	AddOnce(name string, delay time.Duration, job func(ctx context.Context))
	RemoveOnce(name string) bool
}

// ExpirePolicy yields the configured link lifetime for a chat.
type ExpirePolicy interface {
	ExpireFor(ctx context.Context, chatID int64) time.Duration
}

type Manager struct {
	store   *Store
	stats   *Stats
	adapter transport.Adapter
	sched   ExpiryScheduler
	expiry  ExpirePolicy
	log     logx.Logger

	now func() time.Time
}

func NewManager(adapter transport.Adapter, sched ExpiryScheduler, expiry ExpirePolicy, log logx.Logger) *Manager {
	return &Manager{
		store:   NewStore(),
		stats:   NewStats(),
		adapter: adapter,
		sched:   sched,
		expiry:  expiry,
		log:     log,
		now:     time.Now,
	}
}

func (m *Manager) Store() *Store        { return m.store }
func (m *Manager) Stats() StatsSnapshot { return m.stats.Snapshot() }
func (m *Manager) MarkBroadcast()       { m.stats.MarkBroadcast() }
func (m *Manager) ActiveCount() int     { return m.store.Len() }
func (m *Manager) ActiveTargets() []transport.ChatTarget {
	return m.store.ActiveTargets()
}

// Issue mints a single-use invite link for the chat, stores the record,
// announces it and schedules the expiry trigger.
//
// Ordering matters: the record is visible from the moment the link is minted,
// the announcement message id is recorded before the expiry trigger starts
// (cleanup needs it), and any failure before that point unwinds the record so
// a failed issue leaves no state behind.
func (m *Manager) Issue(ctx context.Context, chat transport.ChatTarget) (Record, error) {
	member, err := m.adapter.MemberOf(ctx, chat.ChatID, m.adapter.BotID())
	if err != nil {
		return Record{}, fmt.Errorf("check invite permission: %w", err)
	}
	if !member.CanInviteUsers {
		return Record{}, ErrNoInvitePermission
	}

	d := m.expiry.ExpireFor(ctx, chat.ChatID)
	expiresAt := m.now().Add(d)

	link, err := m.adapter.CreateInviteLink(ctx, chat.ChatID, linkName(), expiresAt)
	if err != nil {
		return Record{}, fmt.Errorf("create invite link: %w", err)
	}

	rec := Record{ChatID: chat.ChatID, Link: link, ExpiresAt: expiresAt, ThreadID: chat.ThreadID}
	m.store.Put(rec) // overwrites any prior record for this chat

	// A replaced record's pending trigger would be a no-op against the new
	// record anyway, but dropping it early keeps the new lifetime clean.
	m.sched.RemoveOnce(expiryTaskName(chat.ChatID))

	kb := tgui.NewInline().Row(tgui.Btn("Revoke Now", RevokeData(chat.ChatID))).Markup()
	ref, err := m.adapter.SendText(ctx, chat, announcementText(link, d), &transport.SendOptions{
		DisablePreview:     true,
		ReplyMarkupAdapter: kb,
	})
	if err != nil {
		m.store.Remove(chat.ChatID)
		return Record{}, fmt.Errorf("announce invite link: %w", err)
	}

	if !m.store.SetAnnouncement(chat.ChatID, ref.MessageID) {
		// Record vanished between send and update (concurrent revoke).
		return Record{}, ErrNoActiveLink
	}
	rec.MessageID = ref.MessageID

	m.stats.MarkIssued(chat.ChatID)

	chatID := chat.ChatID
	m.sched.AddOnce(expiryTaskName(chatID), d, func(jctx context.Context) {
		m.Revoke(jctx, chatID, TriggerExpiry)
	})

	m.log.Info("invite link issued",
		logx.Int64("chat_id", chat.ChatID),
		logx.Int("thread_id", chat.ThreadID),
		logx.Duration("expires_in", d),
	)
	return rec, nil
}

// Revoke destroys the active record for chatID. Callable from the expiry
// trigger and from the "Revoke Now" action with identical contract; when the
// record is already gone it is an idempotent no-op and reports false.
//
// The record is claimed (removed) first, so two racing invocations perform
// the destructive message operations at most once, and cleanup of the store
// happens even when every messaging call fails.
func (m *Manager) Revoke(ctx context.Context, chatID int64, trig Trigger) bool {
	rec, ok := m.store.Remove(chatID)
	if !ok {
		return false
	}

	log := m.log.With(logx.Int64("chat_id", chatID), logx.String("trigger", trig.String()))

	for _, step := range m.recoverySteps(rec, trig) {
		err := step.run(ctx)
		if err == nil {
			log.Info("invite link revoked", logx.String("via", step.name))
			return true
		}
		log.Debug("revoke step failed", logx.String("step", step.name), logx.Err(err))
	}

	// Nothing worked; the record is gone regardless.
	log.Warn("invite link revoked without cleaning up the announcement")
	return true
}

type recoveryStep struct {
	name string
	run  func(ctx context.Context) error
}

// recoverySteps is the ordered fallback chain: delete the announcement, else
// edit it to an expired/revoked notice (stripping the button), else - only for
// manual revokes - post a fresh notice. Each step is attempted until one
// succeeds.
func (m *Manager) recoverySteps(rec Record, trig Trigger) []recoveryStep {
	var steps []recoveryStep
	if rec.MessageID != 0 {
		ref := transport.MessageRef{ChatID: rec.ChatID, ThreadID: rec.ThreadID, MessageID: rec.MessageID}
		steps = append(steps,
			recoveryStep{"delete", func(ctx context.Context) error {
				return m.adapter.DeleteMessage(ctx, ref)
			}},
			recoveryStep{"edit", func(ctx context.Context) error {
				return m.adapter.EditText(ctx, ref, noticeText(trig), &transport.SendOptions{DisablePreview: true})
			}},
		)
	}
	if trig == TriggerManual {
		steps = append(steps, recoveryStep{"send", func(ctx context.Context) error {
			to := transport.ChatTarget{ChatID: rec.ChatID, ThreadID: rec.ThreadID}
			_, err := m.adapter.SendText(ctx, to, noticeText(trig), &transport.SendOptions{DisablePreview: true})
			return err
		}})
	}
	return steps
}

// ExpireMinutes reports the link lifetime as whole minutes for display.
func ExpireMinutes(d time.Duration) int {
	return int(math.Round(d.Seconds() / 60))
}

func announcementText(link string, d time.Duration) string {
	return fmt.Sprintf("Group invite link generated!\nLink: %s\nExpires in %d minutes", link, ExpireMinutes(d))
}

func noticeText(trig Trigger) string {
	if trig == TriggerManual {
		return "Invite link revoked!"
	}
	return "Invite link has expired!"
}

func linkName() string {
	return "invitebot-" + uuid.NewString()[:8]
}

func expiryTaskName(chatID int64) string {
	return "expire:" + strconv.FormatInt(chatID, 10)
}

// RevokeData builds the callback data carried by the "Revoke Now" button.
func RevokeData(chatID int64) string {
	return "revoke_" + strconv.FormatInt(chatID, 10)
}

// ParseRevokeData extracts the chat id from revoke callback data.
func ParseRevokeData(data string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, "revoke_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
