// Package tgctx resolves raw bot API updates into a typed Context.
package tgctx

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"

	"tg-moderation-bot/telegram"
)

type Kind string

const (
	KindMessage       Kind = "message"
	KindEditedMessage Kind = "edited_message"
	KindChannelPost   Kind = "channel_post"
	KindCallback      Kind = "callback_query"
	KindMyChatMember  Kind = "my_chat_member"
	KindChatMember    Kind = "chat_member"
)

// Entity types the handlers look at.
const (
	EntityBotCommand  = "bot_command"
	EntityMention     = "mention"
	EntityTextMention = "text_mention"
)

// UnrecognizedUpdateError is returned for updates matching none of the
// known variants.
type UnrecognizedUpdateError struct {
	UpdateID int64
}

func (e *UnrecognizedUpdateError) Error() string {
	return fmt.Sprintf("tgctx: unrecognized update %d", e.UpdateID)
}

type Chat struct {
	ID    int64
	Type  string
	Title string
}

func (c Chat) IsPrivate() bool { return c.Type == "private" }

func (c Chat) IsGroup() bool { return c.Type == "group" || c.Type == "supergroup" }

type User struct {
	ID           int64
	IsBot        bool
	IsChannel    bool
	IsPremium    bool
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		return "@" + u.Username
	}
	if name == "" {
		return fmt.Sprintf("%d", u.ID)
	}
	return name
}

// Mention is an HTML link to the user labelled with the display name.
func (u User) Mention() string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(u.DisplayName()))
}

// Entity is a message entity with its text already cut out.
type Entity struct {
	Type   string
	Offset int
	Text   string
	// User is set for text mentions.
	User *User
}

type Message struct {
	ID       int
	Text     string
	Entities []Entity
	From     *User
	ReplyTo  *Message
}

// Callback is a pressed inline button.
type Callback struct {
	ID        string
	Data      string
	MessageID int
}

// Membership is a chat member status change.
type Membership struct {
	User   User
	Status string
}

// Active reports whether the status keeps the user in the chat.
func (m Membership) Active() bool {
	switch m.Status {
	case "left", "kicked", "":
		return false
	}
	return true
}

// Context is the resolved view of one update. Chat and From are always
// set; the other facets depend on Kind.
type Context struct {
	UpdateID   int64
	Kind       Kind
	Chat       Chat
	From       User
	Message    *Message
	Callback   *Callback
	NewMembers []User
	LeftMember *User
	Membership *Membership
}

// Locale is the acting user's language code, or "" when unknown.
func (c *Context) Locale() string { return c.From.LanguageCode }

// Command parses a leading bot command, /name@mention args.
func (m *Message) Command() (name, mention, args string, ok bool) {
	if m == nil || len(m.Entities) == 0 {
		return "", "", "", false
	}
	e := m.Entities[0]
	if e.Type != EntityBotCommand || e.Offset != 0 || !strings.HasPrefix(e.Text, "/") {
		return "", "", "", false
	}
	name = strings.TrimPrefix(e.Text, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name, mention = name[:i], name[i+1:]
	}
	args = strings.TrimSpace(strings.TrimPrefix(m.Text, e.Text))
	return strings.ToLower(name), mention, args, name != ""
}

// Mentions returns the @username and text-mention entities in order.
func (m *Message) Mentions() []Entity {
	if m == nil {
		return nil
	}
	var out []Entity
	for _, e := range m.Entities {
		if e.Type == EntityMention || e.Type == EntityTextMention {
			out = append(out, e)
		}
	}
	return out
}

// Resolve maps u onto a Context. It never panics on partial updates.
func Resolve(u *models.Update) (*Context, error) {
	if u == nil {
		return nil, &UnrecognizedUpdateError{}
	}
	c := &Context{UpdateID: u.ID}
	switch {
	case u.Message != nil:
		c.Kind = KindMessage
		c.fromMessage(u.Message)
	case u.EditedMessage != nil:
		c.Kind = KindEditedMessage
		c.fromMessage(u.EditedMessage)
	case u.ChannelPost != nil:
		c.Kind = KindChannelPost
		c.fromMessage(u.ChannelPost)
	case u.CallbackQuery != nil:
		c.Kind = KindCallback
		c.fromCallback(u.CallbackQuery)
	case u.MyChatMember != nil:
		c.Kind = KindMyChatMember
		c.fromMembership(u.MyChatMember)
	case u.ChatMember != nil:
		c.Kind = KindChatMember
		c.fromMembership(u.ChatMember)
	default:
		return nil, &UnrecognizedUpdateError{UpdateID: u.ID}
	}
	return c, nil
}

func (c *Context) fromMessage(m *models.Message) {
	c.Chat = chat(m.Chat)
	c.Message = message(m)
	// A message sent on behalf of a chat carries a placeholder in From
	// (GroupAnonymousBot for anonymous admins); the actor is the sender chat.
	switch {
	case m.SenderChat != nil:
		c.From = User{ID: m.SenderChat.ID, IsChannel: true, FirstName: m.SenderChat.Title, Username: m.SenderChat.Username}
	case m.From != nil:
		c.From = user(*m.From)
	default:
		c.From = User{ID: m.Chat.ID, IsChannel: true, FirstName: m.Chat.Title}
	}
	for _, nm := range m.NewChatMembers {
		c.NewMembers = append(c.NewMembers, user(nm))
	}
	if m.LeftChatMember != nil {
		left := user(*m.LeftChatMember)
		c.LeftMember = &left
	}
}

func (c *Context) fromCallback(q *models.CallbackQuery) {
	c.From = user(q.From)
	c.Callback = &Callback{ID: q.ID, Data: q.Data}
	switch {
	case q.Message.Message != nil:
		c.Chat = chat(q.Message.Message.Chat)
		c.Message = message(q.Message.Message)
		c.Callback.MessageID = q.Message.Message.ID
	case q.Message.InaccessibleMessage != nil:
		c.Chat = chat(q.Message.InaccessibleMessage.Chat)
		c.Callback.MessageID = q.Message.InaccessibleMessage.MessageID
	default:
		c.Chat = Chat{ID: q.From.ID, Type: "private"}
	}
}

func (c *Context) fromMembership(m *models.ChatMemberUpdated) {
	c.Chat = chat(m.Chat)
	c.From = user(m.From)
	ms := &Membership{Status: string(m.NewChatMember.Type)}
	if mu := telegram.MemberUser(m.NewChatMember); mu != nil {
		ms.User = user(*mu)
	}
	c.Membership = ms
}

func chat(ch models.Chat) Chat {
	title := ch.Title
	if title == "" {
		title = strings.TrimSpace(ch.FirstName + " " + ch.LastName)
	}
	return Chat{ID: ch.ID, Type: string(ch.Type), Title: title}
}

func user(u models.User) User {
	return User{
		ID:           u.ID,
		IsBot:        u.IsBot,
		IsPremium:    u.IsPremium,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
	}
}

func message(m *models.Message) *Message {
	out := &Message{ID: m.ID, Text: m.Text}
	entities := m.Entities
	if out.Text == "" {
		out.Text = m.Caption
		entities = m.CaptionEntities
	}
	for _, e := range entities {
		ent := Entity{Type: string(e.Type), Offset: e.Offset, Text: cut(out.Text, e.Offset, e.Length)}
		if e.User != nil {
			eu := user(*e.User)
			ent.User = &eu
		}
		out.Entities = append(out.Entities, ent)
	}
	if m.From != nil {
		from := user(*m.From)
		out.From = &from
	}
	if r := m.ReplyToMessage; r != nil {
		reply := &Message{ID: r.ID, Text: r.Text}
		if r.From != nil {
			rf := user(*r.From)
			reply.From = &rf
		}
		out.ReplyTo = reply
	}
	return out
}

// cut slices text by UTF-16 code units, as entity offsets are expressed.
func cut(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length < 0 || offset > len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
