// internal/store/document.go
package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tambola-live/tambola-service/internal/models"
)

// applyUpdates applies partial-path updates to a session document. The
// document round-trips through its JSON form so paths address the same keys
// the wire format uses. A nil session is only valid when the first update
// sets the document root.
func applyUpdates(session *models.GameSession, updates []Update) (*models.GameSession, error) {
	var doc map[string]interface{}
	if session != nil {
		raw, err := json.Marshal(session)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
	}

	for _, u := range updates {
		if u.Path == "" {
			if u.Delete {
				doc = nil
				continue
			}
			raw, err := json.Marshal(u.Value)
			if err != nil {
				return nil, fmt.Errorf("marshal root value: %w", err)
			}
			doc = nil
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("decode root value: %w", err)
			}
			continue
		}
		if doc == nil {
			return nil, fmt.Errorf("update %q against empty document", u.Path)
		}
		if err := applyPath(doc, strings.Split(u.Path, "."), u); err != nil {
			return nil, err
		}
	}

	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var next models.GameSession
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &next, nil
}

func applyPath(node map[string]interface{}, parts []string, u Update) error {
	key := parts[0]
	if len(parts) == 1 {
		if u.Delete {
			delete(node, key)
			return nil
		}
		// Round-trip the value through JSON so typed values and plain maps
		// land in the document identically.
		raw, err := json.Marshal(u.Value)
		if err != nil {
			return fmt.Errorf("marshal value at %q: %w", u.Path, err)
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode value at %q: %w", u.Path, err)
		}
		node[key] = v
		return nil
	}

	child, ok := node[key]
	if !ok || child == nil {
		if u.Delete {
			return nil
		}
		m := map[string]interface{}{}
		node[key] = m
		return applyPath(m, parts[1:], u)
	}
	m, ok := child.(map[string]interface{})
	if !ok {
		return fmt.Errorf("path %q traverses a non-object node", u.Path)
	}
	return applyPath(m, parts[1:], u)
}
