// Package settings persists operator-tunable configuration as flat dotted
// rows in the settings table and serves it as a nested tree. Defaults are
// applied at read time, so the table only ever holds overrides; rows written
// under the legacy "plexlive." prefix are still honoured and win over their
// unprefixed spelling.
package settings

import (
	"sort"
	"strings"

	"github.com/plexbridge/plexbridge/internal/models"
)

// legacyPrefix is the row-key prefix older releases used for every setting.
// Reads honour it with priority; updates migrate the row to the unprefixed
// spelling.
const legacyPrefix = "plexlive."

// Settings is the nested configuration tree. Leaves are strings, numbers,
// booleans, or JSON-decoded structures; branches are map[string]any.
type Settings map[string]any

// Get returns the value at a dotted path like "streaming.streamTimeout".
func (s Settings) Get(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = map[string]any(s)
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// set places value at a dotted path, creating intermediate branches and
// replacing any scalar found along the way.
func (s Settings) set(path string, value any) {
	parts := strings.Split(path, ".")
	node := map[string]any(s)
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// Clone deep-copies the tree so callers can mutate their view without
// touching the cached one.
func (s Settings) Clone() Settings {
	return Settings(cloneBranch(map[string]any(s)))
}

func cloneBranch(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		if child, ok := value.(map[string]any); ok {
			out[key] = cloneBranch(child)
			continue
		}
		out[key] = value
	}
	return out
}

// Flatten converts a nested tree into dotted leaf paths. Non-map values are
// leaves; empty maps flatten to nothing.
func Flatten(tree map[string]any) map[string]any {
	flat := make(map[string]any)
	flattenInto(flat, "", tree)
	return flat
}

func flattenInto(flat map[string]any, prefix string, node map[string]any) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			flattenInto(flat, path, child)
			continue
		}
		flat[path] = value
	}
}

// overlay applies persisted rows onto the tree. Unprefixed rows apply in a
// first pass; rows carrying the legacy prefix are collected and applied
// second so they win when both spellings of a path exist.
func overlay(tree Settings, rows []*models.Setting) {
	var prefixed []*models.Setting
	for _, row := range rows {
		if strings.HasPrefix(row.Key, legacyPrefix) {
			prefixed = append(prefixed, row)
			continue
		}
		tree.set(row.Key, row.Decode())
	}
	for _, row := range prefixed {
		path := strings.TrimPrefix(row.Key, legacyPrefix)
		if path == "" {
			continue
		}
		tree.set(path, row.Decode())
	}
}

// sortedPaths returns the flat map's keys in stable order, so transactions
// touch rows deterministically.
func sortedPaths(flat map[string]any) []string {
	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
