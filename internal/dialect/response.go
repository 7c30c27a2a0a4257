package dialect

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// anthropicStopReasons maps messages-dialect stop reasons onto OpenAI
// finish_reason values.
var anthropicStopReasons = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

// geminiFinishReasons maps generate-content finish reasons onto OpenAI
// finish_reason values.
var geminiFinishReasons = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
}

func mapStopReason(table map[string]string, reason string) string {
	if mapped, ok := table[reason]; ok {
		return mapped
	}
	if reason == "" {
		return "stop"
	}
	return strings.ToLower(reason)
}

// CompletionID mints an id for synthesized completion objects.
func CompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// TranslateAnthropicResponse wraps a non-streaming messages-dialect completion
// into an OpenAI chat completion object.
func TranslateAnthropicResponse(raw []byte, model string) ([]byte, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	if errObj, ok := resp["error"].(map[string]interface{}); ok {
		return nil, fmt.Errorf("upstream error: %v", errObj["message"])
	}

	var text strings.Builder
	var toolCalls []map[string]interface{}
	if blocks, ok := resp["content"].([]interface{}); ok {
		for _, raw := range blocks {
			block, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if s, ok := block["text"].(string); ok {
					text.WriteString(s)
				}
			case "tool_use":
				args, _ := json.Marshal(block["input"])
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   SanitizeToolCallID(id),
					"type": "function",
					"function": map[string]interface{}{
						"name":      name,
						"arguments": string(args),
					},
				})
			}
		}
	}

	stopReason, _ := resp["stop_reason"].(string)
	message := map[string]interface{}{
		"role":    "assistant",
		"content": StripThinking(text.String()),
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	out := map[string]interface{}{
		"id":      CompletionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": mapStopReason(anthropicStopReasons, stopReason),
		}},
	}
	if usage, ok := resp["usage"].(map[string]interface{}); ok {
		prompt, _ := numberField(usage, "input_tokens")
		completion, _ := numberField(usage, "output_tokens")
		out["usage"] = map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		}
	}
	return json.Marshal(out)
}

// TranslateGeminiResponse wraps a non-streaming generate-content completion
// into an OpenAI chat completion object.
func TranslateGeminiResponse(raw []byte, model string) ([]byte, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode generate-content response: %w", err)
	}
	if errObj, ok := resp["error"].(map[string]interface{}); ok {
		return nil, fmt.Errorf("upstream error: %v", errObj["message"])
	}

	var choices []map[string]interface{}
	candidates, _ := resp["candidates"].([]interface{})
	for i, rawCand := range candidates {
		cand, ok := rawCand.(map[string]interface{})
		if !ok {
			continue
		}
		text, calls := geminiCandidateParts(cand)
		message := map[string]interface{}{
			"role":    "assistant",
			"content": StripThinking(text),
		}
		if len(calls) > 0 {
			message["tool_calls"] = calls
		}
		finish, _ := cand["finishReason"].(string)
		choices = append(choices, map[string]interface{}{
			"index":         i,
			"message":       message,
			"finish_reason": mapStopReason(geminiFinishReasons, finish),
		})
	}
	if len(choices) == 0 {
		return nil, fmt.Errorf("generate-content response has no candidates")
	}

	out := map[string]interface{}{
		"id":      CompletionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": choices,
	}
	if usage, ok := resp["usageMetadata"].(map[string]interface{}); ok {
		prompt, _ := numberField(usage, "promptTokenCount")
		completion, _ := numberField(usage, "candidatesTokenCount")
		out["usage"] = map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		}
	}
	return json.Marshal(out)
}

// geminiCandidateParts flattens a candidate's content parts into text and
// OpenAI-shaped tool calls.
func geminiCandidateParts(cand map[string]interface{}) (string, []map[string]interface{}) {
	content, _ := cand["content"].(map[string]interface{})
	parts, _ := content["parts"].([]interface{})

	var text strings.Builder
	var calls []map[string]interface{}
	for _, rawPart := range parts {
		part, ok := rawPart.(map[string]interface{})
		if !ok {
			continue
		}
		if s, ok := part["text"].(string); ok {
			text.WriteString(s)
		}
		if fc, ok := part["functionCall"].(map[string]interface{}); ok {
			name, _ := fc["name"].(string)
			args, _ := json.Marshal(fc["args"])
			calls = append(calls, map[string]interface{}{
				"id":   SanitizeToolCallID("call_" + name + "_" + uuid.NewString()[:8]),
				"type": "function",
				"function": map[string]interface{}{
					"name":      name,
					"arguments": string(args),
				},
			})
		}
	}
	return text.String(), calls
}

// ScrubOpenAIResponse strips thinking blocks from the message content of an
// already A-shaped non-streaming completion. Bytes that do not decode are
// returned unchanged.
func ScrubOpenAIResponse(raw []byte) []byte {
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return raw
	}
	choices, _ := resp["choices"].([]interface{})
	changed := false
	for _, rawChoice := range choices {
		choice, ok := rawChoice.(map[string]interface{})
		if !ok {
			continue
		}
		msg, ok := choice["message"].(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			stripped := StripThinking(content)
			if stripped != content {
				msg["content"] = stripped
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return raw
	}
	return out
}
