// Package telegramtest provides a recording fake of telegram.API.
package telegramtest

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"tg-moderation-bot/telegram"
)

// Call is one recorded API invocation.
type Call struct {
	Method       string
	ChatID       int64
	UserID       int64
	MessageID    int
	Message      telegram.Outgoing
	Permissions  models.ChatPermissions
	Until        time.Time
	OnlyIfBanned bool
	CallbackID   string
}

// Recorder records every call and answers from its configured state. It is
// safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	nextID int
	admins map[int64][]telegram.Member
	fail   map[string]error
	// Block, when set, is waited on by every call before it returns.
	Block chan struct{}
}

func New() *Recorder {
	return &Recorder{
		nextID: 1000,
		admins: make(map[int64][]telegram.Member),
		fail:   make(map[string]error),
	}
}

// SetAdmins sets the administrators list returned for chatID.
func (r *Recorder) SetAdmins(chatID int64, admins ...telegram.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[chatID] = admins
}

// Fail makes every call to method fail with err; nil clears it.
func (r *Recorder) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

func (r *Recorder) record(ctx context.Context, c Call) error {
	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return &telegram.RemoteError{Method: c.Method, Err: ctx.Err()}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err, ok := r.fail[c.Method]; ok {
		return &telegram.RemoteError{Method: c.Method, Err: err}
	}
	return nil
}

func (r *Recorder) Send(ctx context.Context, msg telegram.Outgoing) (int, error) {
	if err := r.record(ctx, Call{Method: "send", ChatID: msg.ChatID, Message: msg}); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *Recorder) Delete(ctx context.Context, chatID int64, messageID int) error {
	return r.record(ctx, Call{Method: "delete", ChatID: chatID, MessageID: messageID})
}

func (r *Recorder) Ban(ctx context.Context, chatID, userID int64, until time.Time) error {
	return r.record(ctx, Call{Method: "ban", ChatID: chatID, UserID: userID, Until: until})
}

func (r *Recorder) Unban(ctx context.Context, chatID, userID int64, onlyIfBanned bool) error {
	return r.record(ctx, Call{Method: "unban", ChatID: chatID, UserID: userID, OnlyIfBanned: onlyIfBanned})
}

func (r *Recorder) Restrict(ctx context.Context, chatID, userID int64, perms models.ChatPermissions, until time.Time) error {
	return r.record(ctx, Call{Method: "restrict", ChatID: chatID, UserID: userID, Permissions: perms, Until: until})
}

func (r *Recorder) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return r.record(ctx, Call{Method: "answer", CallbackID: callbackID, Message: telegram.Outgoing{Text: text}})
}

func (r *Recorder) Administrators(ctx context.Context, chatID int64) ([]telegram.Member, error) {
	if err := r.record(ctx, Call{Method: "admins", ChatID: chatID}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telegram.Member(nil), r.admins[chatID]...), nil
}

// Calls returns the recorded calls, optionally only those of the given methods.
func (r *Recorder) Calls(methods ...string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if len(methods) == 0 || contains(methods, c.Method) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls of method were recorded.
func (r *Recorder) Count(method string) int {
	return len(r.Calls(method))
}

// Sent returns the messages sent so far.
func (r *Recorder) Sent() []telegram.Outgoing {
	calls := r.Calls("send")
	out := make([]telegram.Outgoing, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Message)
	}
	return out
}

// Moderation returns the ban, unban and restrict calls.
func (r *Recorder) Moderation() []Call {
	return r.Calls("ban", "unban", "restrict")
}

// Reset drops the recorded calls, keeping admins and failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ telegram.API = (*Recorder)(nil)
