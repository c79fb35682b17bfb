package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pitabwire/portdesk/model"
)

// maxTextMessage bounds how much of a plain-text error body is surfaced.
const maxTextMessage = 300

// fallbackItemKeys are tried when the configured items key is absent.
var fallbackItemKeys = []string{"data", "items"}

// NormalizeList turns any collection response into a ListResult. A snapshot
// needs a 2xx status and no explicit "success":false in the body; 401 is
// always a session failure. A successful body without items is an empty
// list, not an error.
func NormalizeList(status int, body []byte, itemsKey string) model.ListResult {
	if status == http.StatusUnauthorized {
		return model.ListResult{Err: model.NewSessionInvalidError("")}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil && is2xx(status) {
			return model.ListResult{Success: true, Items: items}
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		if is2xx(status) && len(trimmed) == 0 {
			return model.ListResult{Success: true, Items: []json.RawMessage{}}
		}
		return model.ListResult{Err: model.NewRequestFailedError(status, ExtractMessage(body))}
	}

	if !is2xx(status) || !successFlag(obj) {
		return model.ListResult{Err: model.NewRequestFailedError(status, ExtractMessage(body))}
	}

	return model.ListResult{Success: true, Items: itemsOf(obj, itemsKey)}
}

func itemsOf(obj map[string]json.RawMessage, itemsKey string) []json.RawMessage {
	keys := fallbackItemKeys
	if itemsKey != "" {
		keys = append([]string{itemsKey}, fallbackItemKeys...)
	}
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil && items != nil {
			return items
		}
	}
	return []json.RawMessage{}
}

// ExtractMessage returns the best human-readable reason carried by an error
// body: a JSON "message" or "error" string (or "error.message"), else a
// short plain-text body. It returns "" when nothing usable is present.
func ExtractMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if msg, ok := obj["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
		switch e := obj["error"].(type) {
		case string:
			if strings.TrimSpace(e) != "" {
				return strings.TrimSpace(e)
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
		return ""
	}
	if trimmed[0] == '[' || trimmed[0] == '<' || !utf8.Valid(trimmed) {
		return ""
	}

	if runes := []rune(string(trimmed)); len(runes) > maxTextMessage {
		return string(runes[:maxTextMessage])
	}
	return string(trimmed)
}

// bodySucceeded applies the same rule as NormalizeList to mutation replies.
func bodySucceeded(status int, body []byte) bool {
	if !is2xx(status) {
		return false
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(bytes.TrimSpace(body), &obj) != nil {
		return true
	}
	return successFlag(obj)
}

// successFlag is false only for an explicit boolean "success":false.
func successFlag(obj map[string]json.RawMessage) bool {
	raw, ok := obj["success"]
	if !ok {
		return true
	}
	var flag bool
	if json.Unmarshal(raw, &flag) != nil {
		return true
	}
	return flag
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
