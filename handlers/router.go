package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"tg-moderation-bot/tgctx"
)

// HandlerFunc handles one routed update.
type HandlerFunc func(ctx context.Context, req *Request) error

type RouteKind string

const (
	RouteNone     RouteKind = "none"
	RouteCommand  RouteKind = "command"
	RouteCallback RouteKind = "callback"
	RoutePassive  RouteKind = "passive"
)

// Route is the classification of one update.
type Route struct {
	Kind RouteKind
	// Name is the matched command or callback keyword.
	Name string
	// Args is the command text after the command, or the callback payload
	// after the keyword.
	Args string
}

type passiveRoute struct {
	name  string
	match func(*Request) bool
	fn    HandlerFunc
}

// Router maps updates onto handlers. Commands and callbacks match by exact
// keyword; passive actions run only when neither matched.
type Router struct {
	botUsername string
	commands    map[string]HandlerFunc
	callbacks   map[string]HandlerFunc
	passive     []passiveRoute
}

func NewRouter(botUsername string) *Router {
	return &Router{
		botUsername: botUsername,
		commands:    make(map[string]HandlerFunc),
		callbacks:   make(map[string]HandlerFunc),
	}
}

// Command registers fn under every alias. Aliases are case-insensitive and
// may be registered once.
func (r *Router) Command(fn HandlerFunc, aliases ...string) error {
	if len(aliases) == 0 {
		return fmt.Errorf("handlers: command without aliases")
	}
	for _, a := range aliases {
		a = strings.ToLower(a)
		if a == "" || strings.ContainsAny(a, " @/") {
			return fmt.Errorf("handlers: invalid command alias %q", a)
		}
		if _, dup := r.commands[a]; dup {
			return fmt.Errorf("handlers: command %q registered twice", a)
		}
		r.commands[a] = fn
	}
	return nil
}

// Callback registers fn for callback data of the form keyword[:payload].
func (r *Router) Callback(keyword string, fn HandlerFunc) error {
	if keyword == "" || strings.Contains(keyword, ":") {
		return fmt.Errorf("handlers: invalid callback keyword %q", keyword)
	}
	if _, dup := r.callbacks[keyword]; dup {
		return fmt.Errorf("handlers: callback %q registered twice", keyword)
	}
	r.callbacks[keyword] = fn
	return nil
}

// Passive registers an action evaluated against every update that is
// neither a command nor a callback.
func (r *Router) Passive(name string, match func(*Request) bool, fn HandlerFunc) {
	r.passive = append(r.passive, passiveRoute{name: name, match: match, fn: fn})
}

// Commands lists the registered command aliases.
func (r *Router) Commands() []string {
	out := make([]string, 0, len(r.commands))
	for name := range r.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Classify decides the route of c exactly once. A message carrying a
// leading bot command is a command even when the command is unknown or
// addressed to another bot; such messages route nowhere.
func (r *Router) Classify(c *tgctx.Context) Route {
	if c.Kind == tgctx.KindMessage {
		if name, mention, args, ok := c.Message.Command(); ok {
			if mention != "" && !strings.EqualFold(mention, r.botUsername) {
				return Route{Kind: RouteNone}
			}
			if _, known := r.commands[name]; !known {
				return Route{Kind: RouteNone}
			}
			return Route{Kind: RouteCommand, Name: name, Args: args}
		}
	}
	if c.Callback != nil {
		keyword, payload, _ := strings.Cut(c.Callback.Data, ":")
		if _, known := r.callbacks[keyword]; !known {
			return Route{Kind: RouteNone}
		}
		return Route{Kind: RouteCallback, Name: keyword, Args: payload}
	}
	return Route{Kind: RoutePassive}
}

// handlers returns the named handlers the route selects for req.
func (r *Router) handlers(route Route, req *Request) []namedHandler {
	switch route.Kind {
	case RouteCommand:
		return []namedHandler{{name: "command:" + route.Name, fn: r.commands[route.Name]}}
	case RouteCallback:
		return []namedHandler{{name: "callback:" + route.Name, fn: r.callbacks[route.Name]}}
	case RoutePassive:
		var out []namedHandler
		for _, p := range r.passive {
			if p.match(req) {
				out = append(out, namedHandler{name: "passive:" + p.name, fn: p.fn})
			}
		}
		return out
	}
	return nil
}

// splitWord cuts the first whitespace-separated word off s.
func splitWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// subActions maps the first argument word of a command onto a handler.
// The empty keyword is the no-argument form.
type subActions map[string]HandlerFunc

func newSubActions(actions map[string]HandlerFunc) (subActions, error) {
	if _, ok := actions[""]; !ok {
		return nil, fmt.Errorf("handlers: sub-actions need a no-argument form")
	}
	out := make(subActions, len(actions))
	for k, fn := range actions {
		if k != strings.ToLower(k) || strings.ContainsAny(k, " \t") {
			return nil, fmt.Errorf("handlers: invalid sub-action %q", k)
		}
		if fn == nil {
			return nil, fmt.Errorf("handlers: sub-action %q has no handler", k)
		}
		out[k] = fn
	}
	return out, nil
}

// pick splits args into the sub-action keyword and its rest.
func (s subActions) pick(args string) (HandlerFunc, string, bool) {
	word, rest := splitWord(args)
	fn, ok := s[strings.ToLower(word)]
	return fn, rest, ok
}
