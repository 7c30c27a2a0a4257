package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	"frugal/internal/catalog"
)

// defaultMaxTokens is applied when a messages-dialect request omits the
// mandatory max_tokens field.
const defaultMaxTokens = 4096

// TranslateRequest rewrites an OpenAI-shaped request body for the target
// dialect and model. Pure: the inbound map is never mutated.
func TranslateRequest(body map[string]interface{}, dialect catalog.Dialect, modelID string, viaGateway bool) (map[string]interface{}, error) {
	out, err := deepCopy(body)
	if err != nil {
		return nil, fmt.Errorf("copy request body: %w", err)
	}

	messages, _ := out["messages"].([]interface{})
	NormalizeMessages(messages)

	switch dialect {
	case catalog.DialectOpenAI:
		out["model"] = wireModelID(modelID, viaGateway)
		return out, nil
	case catalog.DialectAnthropic:
		return toMessagesDialect(out, messages, modelID)
	case catalog.DialectGemini:
		return toGenerateContent(out, messages)
	default:
		return nil, fmt.Errorf("unknown dialect %v", dialect)
	}
}

// wireModelID is the model field value the upstream expects: the full
// <provider>/<name> slug through the gateway, the bare name when direct.
func wireModelID(modelID string, viaGateway bool) string {
	if viaGateway {
		return modelID
	}
	if idx := strings.Index(modelID, "/"); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}

// toMessagesDialect converts an OpenAI-shaped body into the messages dialect:
// leading system messages move to a top-level system string, the rest are
// coerced to strict user/assistant alternation, and max_tokens gets a default.
func toMessagesDialect(out map[string]interface{}, messages []interface{}, modelID string) (map[string]interface{}, error) {
	var systemParts []string
	var rest []map[string]interface{}
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "system" && len(rest) == 0 {
			systemParts = append(systemParts, ContentText(msg["content"]))
			continue
		}
		rest = append(rest, msg)
	}

	converted := coerceAlternating(rest)

	body := map[string]interface{}{
		"model":    wireModelID(modelID, false),
		"messages": converted,
	}
	if len(systemParts) > 0 {
		body["system"] = strings.Join(systemParts, "\n\n")
	}

	if mt, ok := numberField(out, "max_tokens"); ok {
		body["max_tokens"] = mt
	} else if mt, ok := numberField(out, "max_completion_tokens"); ok {
		body["max_tokens"] = mt
	} else {
		body["max_tokens"] = defaultMaxTokens
	}
	if v, ok := out["temperature"]; ok {
		body["temperature"] = v
	}
	if v, ok := out["top_p"]; ok {
		body["top_p"] = v
	}
	if v, ok := out["stop"]; ok {
		body["stop_sequences"] = stopList(v)
	}
	if v, ok := out["stream"].(bool); ok && v {
		body["stream"] = true
	}
	return body, nil
}

// coerceAlternating flattens messages to text and enforces the strict
// user/assistant alternation the messages dialect validates. Mid-conversation
// system messages become user text; consecutive same-role messages are merged.
func coerceAlternating(messages []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		role, _ := msg["role"].(string)
		if role != "assistant" {
			role = "user"
		}
		text := ContentText(msg["content"])
		if text == "" {
			if role == "user" {
				// Tool results and other non-text content still need a slot.
				if b, err := json.Marshal(msg["content"]); err == nil && msg["content"] != nil {
					text = string(b)
				}
			}
			if text == "" {
				continue
			}
		}
		if n := len(out); n > 0 && out[n-1]["role"] == role {
			prev, _ := out[n-1]["content"].(string)
			out[n-1]["content"] = prev + "\n\n" + text
			continue
		}
		out = append(out, map[string]interface{}{"role": role, "content": text})
	}
	if len(out) == 0 || out[0]["role"] != "user" {
		out = append([]map[string]interface{}{{"role": "user", "content": "(continuing conversation)"}}, out...)
	}
	return out
}

// toGenerateContent converts an OpenAI-shaped body into the generate-content
// dialect: contents with role user/model and parts trees, plus a
// systemInstruction block and generationConfig.
func toGenerateContent(out map[string]interface{}, messages []interface{}) (map[string]interface{}, error) {
	var systemParts []string
	var contents []map[string]interface{}
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		text := ContentText(msg["content"])
		if role == "system" {
			systemParts = append(systemParts, text)
			continue
		}
		if text == "" {
			continue
		}
		wireRole := "user"
		if role == "assistant" {
			wireRole = "model"
		}
		contents = append(contents, map[string]interface{}{
			"role":  wireRole,
			"parts": []map[string]interface{}{{"text": text}},
		})
	}
	// The upstream rejects histories that do not open with a user turn.
	if len(contents) == 0 || contents[0]["role"] != "user" {
		contents = append([]map[string]interface{}{{
			"role":  "user",
			"parts": []map[string]interface{}{{"text": "(continuing conversation)"}},
		}}, contents...)
	}

	body := map[string]interface{}{"contents": contents}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{{"text": strings.Join(systemParts, "\n\n")}},
		}
	}

	gen := map[string]interface{}{}
	if v, ok := numberField(out, "max_tokens"); ok {
		gen["maxOutputTokens"] = v
	}
	if v, ok := out["temperature"]; ok {
		gen["temperature"] = v
	}
	if v, ok := out["top_p"]; ok {
		gen["topP"] = v
	}
	if v, ok := out["stop"]; ok {
		gen["stopSequences"] = stopList(v)
	}
	if len(gen) > 0 {
		body["generationConfig"] = gen
	}
	return body, nil
}

// numberField reads a numeric field that may have decoded as float64 or int.
func numberField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// stopList normalizes the stop field (string or list) into a string list.
func stopList(v interface{}) []string {
	switch s := v.(type) {
	case string:
		return []string{s}
	case []interface{}:
		var out []string
		for _, raw := range s {
			if str, ok := raw.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// deepCopy clones a decoded JSON value tree.
func deepCopy(m map[string]interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
