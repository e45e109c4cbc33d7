package database

import "time"

const (
	TableChats       = "chats"
	TableChatConfigs = "chat_configs"
	TableUsers       = "users"
	TableRelations   = "rel_users_chats"
	TableWarnings    = "warnings"
	TableBans        = "bans"
	TableFederations = "federations"
	TableMessages    = "messages"
	TableRules       = "rules"
)

// Chat configuration columns, written one at a time by the toggle commands.
const (
	ConfigGreetings        = "greetings"
	ConfigGreetingText     = "greeting_text"
	ConfigGoodbye          = "goodbye"
	ConfigRestrictNewUsers = "restrict_new_users"
	ConfigCaptcha          = "captcha"
	ConfigAskToAsk         = "ask_to_ask"
	ConfigAdaShield        = "adashield"
	ConfigWarnLimit        = "warn_limit"
)

// DefaultWarnLimit applies when neither the chat nor the process
// configuration sets a positive limit.
const DefaultWarnLimit = 3

const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

type Chat struct {
	ID           int64
	ExternalID   int64
	Title        string
	Type         string
	IsMember     bool
	FederationID *int64
	Config       ChatConfig
	CreatedAt    time.Time
}

func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup || c.Type == ChatTypeSupergroup
}

type ChatConfig struct {
	ID               int64
	Greetings        bool
	GreetingText     string
	Goodbye          bool
	RestrictNewUsers bool
	Captcha          bool
	AskToAsk         bool
	AdaShield        bool
	WarnLimit        int
}

type User struct {
	ID           int64
	ExternalID   int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	IsBot        bool
	IsChannel    bool
	IsPremium    bool
	CreatedAt    time.Time
}

// DisplayName is the first and last name, falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}

// Relation is a user's membership and verification state in one chat.
type Relation struct {
	ID       int64
	UserID   int64
	ChatID   int64
	Joined   bool
	Checked  bool
	JoinedAt time.Time
	TTL      *time.Time
}

// PendingMember: непроверенный участник с истёкшим сроком капчи.
type PendingMember struct {
	RelationID     int64
	UserExternalID int64
	ChatExternalID int64
}

type Warning struct {
	ID        int64
	UserID    int64
	ChatID    int64
	Reason    string
	Active    bool
	CreatedAt time.Time
}

type Ban struct {
	ID           int64
	UserID       int64
	ChatID       int64
	FederationID *int64
	Reason       string
	CreatedAt    time.Time
}

type Federation struct {
	ID          int64
	Hash        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// TrackedMessage: сообщение бота, удаляемое по истечении TTL.
type TrackedMessage struct {
	ID             int64
	ChatExternalID int64
	MessageID      int
	TTL            *time.Time
}

type Rules struct {
	ID        int64
	ChatID    int64
	Text      string
	UpdatedAt time.Time
}
