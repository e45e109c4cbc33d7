// Package messages renders the bot's localized texts. Catalogs live in
// locales/<lang>.yml as flat key: template maps; {name} placeholders are
// filled from the params passed to Render.
package messages

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yml
var locales embed.FS

// Params fills template placeholders. Values are formatted with fmt.Sprint
// and inserted verbatim, so callers escape untrusted HTML.
type Params map[string]any

type Catalog struct {
	fallback  string
	templates map[string]map[string]string
}

// Load reads every embedded locale. fallback is used for unknown locales
// and for keys a locale lacks.
func Load(fallback string) (*Catalog, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("messages: read locales: %w", err)
	}
	c := &Catalog{fallback: fallback, templates: make(map[string]map[string]string)}
	for _, e := range entries {
		raw, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("messages: read %s: %w", e.Name(), err)
		}
		var t map[string]string
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("messages: parse %s: %w", e.Name(), err)
		}
		c.templates[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = t
	}
	if _, ok := c.templates[fallback]; !ok {
		return nil, fmt.Errorf("messages: fallback locale %q not found", fallback)
	}
	return c, nil
}

// MustLoad is Load for package-level and test setup.
func MustLoad(fallback string) *Catalog {
	c, err := Load(fallback)
	if err != nil {
		panic(err)
	}
	return c
}

// Locales lists the loaded locale tags.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.templates))
	for tag := range c.templates {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Template resolves key for locale. "pt-BR" resolves as "pt". A key missing
// everywhere resolves to itself.
func (c *Catalog) Template(key, locale string) string {
	locale = strings.ToLower(locale)
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	if t, ok := c.templates[locale][key]; ok {
		return t
	}
	if t, ok := c.templates[c.fallback][key]; ok {
		return t
	}
	return key
}

// Render resolves key and substitutes params.
func (c *Catalog) Render(key, locale string, params Params) string {
	t := c.Template(key, locale)
	if len(params) == 0 {
		return t
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(t)
}
