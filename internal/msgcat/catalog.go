// Package msgcat holds every player-facing sentence the table and the
// terminal client produce.
package msgcat

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chess-table/internal/obslog"
)

//go:embed messages.en.yaml
var defaultMessages []byte

// Catalog maps dotted keys such as "table.result.checkmate" to compiled
// templates. It is immutable after New and safe for concurrent use.
type Catalog struct {
	tpl map[string]*template.Template
}

// New compiles the embedded messages, then the optional override file on top.
// An override may only replace keys the embedded set already has.
func New(overrideFile string) (*Catalog, error) {
	texts, err := flatten(defaultMessages)
	if err != nil {
		return nil, fmt.Errorf("embedded messages: %w", err)
	}
	if path := strings.TrimSpace(overrideFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read messages override: %w", err)
		}
		over, err := flatten(raw)
		if err != nil {
			return nil, fmt.Errorf("messages override %s: %w", path, err)
		}
		var unknown []string
		for k, v := range over {
			if _, ok := texts[k]; !ok {
				unknown = append(unknown, k)
				continue
			}
			texts[k] = v
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, fmt.Errorf("messages override %s: unknown keys %s", path, strings.Join(unknown, ", "))
		}
	}

	c := &Catalog{tpl: make(map[string]*template.Template, len(texts))}
	for k, text := range texts {
		t, err := template.New(k).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", k, err)
		}
		c.tpl[k] = t
	}
	return c, nil
}

// Default returns the catalog with embedded messages only.
func Default() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func flatten(raw []byte) (map[string]string, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var walk func(prefix string, node any) error
	walk = func(prefix string, node any) error {
		switch v := node.(type) {
		case map[string]any:
			for k, child := range v {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				if err := walk(key, child); err != nil {
					return err
				}
			}
		case string:
			if prefix == "" || strings.TrimSpace(v) == "" {
				return fmt.Errorf("empty message at %q", prefix)
			}
			out[prefix] = v
		case nil:
		default:
			return fmt.Errorf("message %s is a %T, want text", prefix, v)
		}
		return nil
	}
	if err := walk("", tree); err != nil {
		return nil, err
	}
	return out, nil
}

// Render executes the template under key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
	t, ok := c.tpl[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("message not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key and returns the key itself when rendering fails.
func (c *Catalog) Text(key string, data any) string {
	s, err := c.Render(key, data)
	if err != nil {
		obslog.L().Warn("msgcat_render_failed", zap.String("key", key), zap.Error(err))
		return key
	}
	return s
}
