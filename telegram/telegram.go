// Package telegram is the outbound bot API surface the handlers and
// sweepers depend on, and its adapter over go-telegram/bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot/models"
)

// ErrRejected is wrapped by RemoteError when the API answered false.
var ErrRejected = errors.New("request rejected")

// RemoteError is a failed outbound API call.
type RemoteError struct {
	Method string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("telegram: %s: %v", e.Method, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Button is one inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Outgoing is a message to send.
type Outgoing struct {
	ChatID int64
	Text   string
	// ReplyTo is the message id to reply to; 0 sends a plain message.
	ReplyTo  int
	HTML     bool
	Keyboard [][]Button
}

// Member is a chat member as returned by the administrators lookup.
type Member struct {
	ID        int64
	IsBot     bool
	FirstName string
	Username  string
}

// API is the set of remote operations the bot performs. Every failure is
// returned as a *RemoteError.
type API interface {
	Send(ctx context.Context, msg Outgoing) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Ban bans userID; a zero until bans forever.
	Ban(ctx context.Context, chatID, userID int64, until time.Time) error
	Unban(ctx context.Context, chatID, userID int64, onlyIfBanned bool) error
	// Restrict applies perms until the given time; zero means forever.
	Restrict(ctx context.Context, chatID, userID int64, perms models.ChatPermissions, until time.Time) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Administrators(ctx context.Context, chatID int64) ([]Member, error)
}

// NoPermissions mutes a member entirely.
func NoPermissions() models.ChatPermissions {
	return models.ChatPermissions{}
}

// FullPermissions is the baseline granted to verified members.
func FullPermissions() models.ChatPermissions {
	return models.ChatPermissions{
		CanSendMessages:       true,
		CanSendAudios:         true,
		CanSendDocuments:      true,
		CanSendPhotos:         true,
		CanSendVideos:         true,
		CanSendVideoNotes:     true,
		CanSendVoiceNotes:     true,
		CanSendPolls:          true,
		CanSendOtherMessages:  true,
		CanAddWebPagePreviews: true,
		CanInviteUsers:        true,
	}
}

// NewcomerPermissions allows text only.
func NewcomerPermissions() models.ChatPermissions {
	return models.ChatPermissions{CanSendMessages: true}
}
