package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"tg-moderation-bot/database"
	"tg-moderation-bot/tgctx"
)

// target is a user a moderation command acts on.
type target struct {
	*database.User
}

func (t target) Mention() string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, t.ExternalID, html.EscapeString(displayName(t.User)))
}

func displayName(u *database.User) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return strconv.FormatInt(u.ExternalID, 10)
}

// resolveTargets finds the users a command names, in precedence order: the
// author of the replied-to message, else every mention, else a raw numeric
// id as the first argument. An unknown raw id becomes a minimal user row.
// rest is the argument text with the target references removed.
func resolveTargets(ctx context.Context, repos *database.Repositories, req *Request) (targets []target, rest string, err error) {
	args := req.Route.Args
	msg := req.Update.Message

	if msg != nil && msg.ReplyTo != nil && msg.ReplyTo.From != nil {
		u, err := repos.Users.Ensure(ctx, userSeed(*msg.ReplyTo.From))
		if err != nil {
			return nil, "", err
		}
		return []target{{u}}, args, nil
	}

	if mentions := msg.Mentions(); len(mentions) > 0 {
		seen := make(map[int64]bool)
		for _, m := range mentions {
			args = strings.Replace(args, m.Text, "", 1)
			u, err := mentionedUser(ctx, repos, m)
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, "", err
			}
			if !seen[u.ID] {
				seen[u.ID] = true
				targets = append(targets, target{u})
			}
		}
		return targets, strings.Join(strings.Fields(args), " "), nil
	}

	word, after := splitWord(args)
	id, perr := strconv.ParseInt(word, 10, 64)
	if perr != nil || id == 0 {
		return nil, args, nil
	}
	u, err := repos.Users.GetByExternalID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		u, err = repos.Users.Ensure(ctx, database.User{ExternalID: id})
	}
	if err != nil {
		return nil, "", err
	}
	return []target{{u}}, after, nil
}

func mentionedUser(ctx context.Context, repos *database.Repositories, m tgctx.Entity) (*database.User, error) {
	if m.Type == tgctx.EntityTextMention && m.User != nil {
		return repos.Users.Ensure(ctx, userSeed(*m.User))
	}
	return repos.Users.GetByUsername(ctx, m.Text)
}

func htmlSafe(s string) string { return html.EscapeString(s) }
