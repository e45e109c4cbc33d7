package handlers

import (
	"context"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/store"
)

// toggle is a per-chat on/off feature backed by one config column.
type toggle struct {
	command string
	column  string
	feature string
	value   func(database.ChatConfig) bool
}

var toggles = []toggle{
	{"restrict", database.ConfigRestrictNewUsers, "feature.restrict", func(c database.ChatConfig) bool { return c.RestrictNewUsers }},
	{"captcha", database.ConfigCaptcha, "feature.captcha", func(c database.ChatConfig) bool { return c.Captcha }},
	{"adashield", database.ConfigAdaShield, "feature.adashield", func(c database.ChatConfig) bool { return c.AdaShield }},
	{"greetings", database.ConfigGreetings, "feature.greetings", func(c database.ChatConfig) bool { return c.Greetings }},
	{"goodbye", database.ConfigGoodbye, "feature.goodbye", func(c database.ChatConfig) bool { return c.Goodbye }},
	{"asktoask", database.ConfigAskToAsk, "feature.asktoask", func(c database.ChatConfig) bool { return c.AskToAsk }},
}

type settingsFeature struct {
	repos  *database.Repositories
	gate   *gate
	notify Notifier
}

func (f *settingsFeature) register(r *Router) error {
	for _, t := range toggles {
		actions := map[string]HandlerFunc{
			"":       f.status(t),
			"status": f.status(t),
			"on":     f.set(t, true),
			"off":    f.set(t, false),
		}
		if t.command == "greetings" {
			actions["set"] = f.setGreeting
		}
		table, err := newSubActions(actions)
		if err != nil {
			return err
		}
		if err := r.Command(f.command(t, table), t.command); err != nil {
			return err
		}
	}
	return nil
}

// command gates the toggle and dispatches on its first argument.
func (f *settingsFeature) command(t toggle, table subActions) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if !req.Update.Chat.IsGroup() {
			_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "group_only", nil))
			return err
		}
		if err := f.gate.require(ctx, req, denyNotice); err != nil {
			return err
		}
		fn, rest, ok := table.pick(req.Route.Args)
		if !ok {
			_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "toggle.usage", messages.Params{"command": t.command}))
			return err
		}
		req.Route.Args = rest
		return fn(ctx, req)
	}
}

func (f *settingsFeature) status(t toggle) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		_, err := f.notify.Notice(ctx, req, f.renderStatus(req, t, t.value(req.Chat.Config)))
		return err
	}
}

func (f *settingsFeature) renderStatus(req *Request, t toggle, on bool) string {
	state := "state.off"
	if on {
		state = "state.on"
	}
	return f.notify.Render(req, "toggle.status", messages.Params{
		"feature": f.notify.Render(req, t.feature, nil),
		"state":   f.notify.Render(req, state, nil),
	})
}

// set writes the column and confirms only when the write hit a row.
func (f *settingsFeature) set(t toggle, on bool) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		n, err := f.repos.Chats.UpdateConfig(ctx, req.Update.Chat.ID, store.Row{t.column: on})
		if err != nil || n == 0 {
			return err
		}
		chat, err := f.repos.Chats.GetByExternalID(ctx, req.Update.Chat.ID)
		if err != nil {
			return err
		}
		_, err = f.notify.Notice(ctx, req, f.renderStatus(req, t, t.value(chat.Config)))
		return err
	}
}

func (f *settingsFeature) setGreeting(ctx context.Context, req *Request) error {
	if req.Route.Args == "" {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "toggle.usage", messages.Params{"command": "greetings"}))
		return err
	}
	n, err := f.repos.Chats.UpdateConfig(ctx, req.Update.Chat.ID, store.Row{database.ConfigGreetingText: req.Route.Args})
	if err != nil || n == 0 {
		return err
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, "greetings.saved", nil))
	return err
}
