package dialect

import (
	"regexp"
)

// toolCallIDPattern matches characters at least one dialect's validator
// rejects in tool-call ids.
var toolCallIDPattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolCallID replaces characters outside [A-Za-z0-9_-] with "_".
func SanitizeToolCallID(id string) string {
	return toolCallIDPattern.ReplaceAllString(id, "_")
}

// NormalizeRole maps nonstandard roles onto the canonical set. Unrecognized
// roles collapse to "user".
func NormalizeRole(role string) string {
	switch role {
	case "user", "assistant", "system", "tool":
		return role
	case "developer":
		return "system"
	case "model":
		return "assistant"
	default:
		return "user"
	}
}

// NormalizeMessages applies pre-dispatch hygiene to an OpenAI-shaped message
// list, in place on the decoded maps:
//   - role remapping (developer→system, model→assistant, unknown→user),
//   - tool-call id sanitizing (both tool_calls and tool_call_id references),
//   - a reasoning_content field on assistant messages that carry tool calls
//     while thinking is set, which one upstream validator requires.
func NormalizeMessages(messages []interface{}) {
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if role, ok := msg["role"].(string); ok {
			msg["role"] = NormalizeRole(role)
		}
		if id, ok := msg["tool_call_id"].(string); ok {
			msg["tool_call_id"] = SanitizeToolCallID(id)
		}

		calls, hasCalls := msg["tool_calls"].([]interface{})
		if hasCalls {
			for _, rawCall := range calls {
				call, ok := rawCall.(map[string]interface{})
				if !ok {
					continue
				}
				if id, ok := call["id"].(string); ok {
					call["id"] = SanitizeToolCallID(id)
				}
			}
		}

		if hasCalls && msg["thinking"] != nil {
			if _, ok := msg["reasoning_content"]; !ok {
				msg["reasoning_content"] = ""
			}
		}
	}
}

// ContentText flattens an OpenAI message content value (string or content-part
// list) into plain text.
func ContentText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var out string
		for _, raw := range v {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" || t == "" {
				if s, ok := part["text"].(string); ok {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}
