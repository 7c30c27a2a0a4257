package dialect

import (
	"encoding/json"
	"strings"
	"time"

	"frugal/internal/catalog"
)

// doneFrame terminates every translated stream.
var doneFrame = []byte("data: [DONE]\n\n")

// StreamTranslator converts upstream SSE bytes into OpenAI-shaped SSE frames.
// Feed returns zero or more complete frames ready to write to the client;
// Finish flushes whatever remains and the [DONE] terminator.
type StreamTranslator interface {
	Feed(p []byte) [][]byte
	Finish() [][]byte
}

// NewStreamTranslator picks the translator for an upstream dialect.
func NewStreamTranslator(dialect catalog.Dialect, model string) StreamTranslator {
	switch dialect {
	case catalog.DialectAnthropic:
		return newAnthropicStream(model)
	case catalog.DialectGemini:
		return newGeminiStream(model)
	default:
		return newOpenAIScrubber()
	}
}

// ChunkEnvelope carries the constant fields of synthesized delta frames.
type ChunkEnvelope struct {
	id      string
	model   string
	created int64
}

// NewChunkEnvelope mints an envelope with a fresh completion id.
func NewChunkEnvelope(model string) ChunkEnvelope {
	return ChunkEnvelope{id: CompletionID(), model: model, created: time.Now().Unix()}
}

// Frame renders one A-shaped streaming chunk as a complete SSE frame.
func (e ChunkEnvelope) Frame(delta map[string]interface{}, finishReason string) []byte {
	choice := map[string]interface{}{"index": 0, "delta": delta}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	} else {
		choice["finish_reason"] = nil
	}
	b, _ := json.Marshal(map[string]interface{}{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []map[string]interface{}{choice},
	})
	return append(append([]byte("data: "), b...), '\n', '\n')
}

// openaiScrubber forwards already A-shaped SSE, dropping vendor keepalive
// frames and stripping thinking content from deltas.
type openaiScrubber struct {
	scanner frameScanner
	filter  thinkingFilter
	done    bool
}

func newOpenAIScrubber() *openaiScrubber {
	return &openaiScrubber{}
}

func (t *openaiScrubber) Feed(p []byte) [][]byte {
	var out [][]byte
	for _, frame := range t.scanner.feed(p) {
		if b := t.scrub(frame); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (t *openaiScrubber) Finish() [][]byte {
	var out [][]byte
	if rest := t.scanner.rest(); len(rest) > 0 {
		if b := t.scrub(rest); b != nil {
			out = append(out, b)
		}
	}
	if !t.done {
		out = append(out, doneFrame)
	}
	return out
}

func (t *openaiScrubber) scrub(frame []byte) []byte {
	data, ok := frameDataLines(frame)
	if !ok {
		// Comment-only frame (": OPENROUTER PROCESSING" and kin).
		return nil
	}
	if data == "[DONE]" {
		t.done = true
		return doneFrame
	}
	// Some gateways smuggle keepalives inside the data field.
	if strings.HasPrefix(data, ":") {
		return nil
	}

	var chunk map[string]interface{}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Not JSON; never forward bytes we cannot vouch for.
		return nil
	}
	choices, _ := chunk["choices"].([]interface{})
	for _, rawChoice := range choices {
		choice, ok := rawChoice.(map[string]interface{})
		if !ok {
			continue
		}
		delta, ok := choice["delta"].(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := delta["content"].(string); ok && content != "" {
			delta["content"] = t.filter.filter(content)
		}
	}
	b, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	return append(append([]byte("data: "), b...), '\n', '\n')
}

// anthropicStream translates messages-dialect events into A-shaped chunks.
// The role frame is emitted first; tool-use blocks become tool_calls deltas;
// message_delta carries the stop reason.
type anthropicStream struct {
	scanner  frameScanner
	envelope ChunkEnvelope
	filter   thinkingFilter

	roleSent   bool
	toolIndex  int
	inToolUse  bool
	finishSent bool
}

func newAnthropicStream(model string) *anthropicStream {
	return &anthropicStream{envelope: NewChunkEnvelope(model), toolIndex: -1}
}

func (t *anthropicStream) Feed(p []byte) [][]byte {
	var out [][]byte
	for _, frame := range t.scanner.feed(p) {
		out = append(out, t.translate(frame)...)
	}
	return out
}

func (t *anthropicStream) Finish() [][]byte {
	var out [][]byte
	if rest := t.scanner.rest(); len(rest) > 0 {
		out = append(out, t.translate(rest)...)
	}
	if !t.finishSent {
		out = append(out, t.envelope.Frame(map[string]interface{}{}, "stop"))
	}
	return append(out, doneFrame)
}

func (t *anthropicStream) translate(frame []byte) [][]byte {
	data, ok := frameDataLines(frame)
	if !ok {
		return nil
	}
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil
	}

	var out [][]byte
	emit := func(delta map[string]interface{}, finish string) {
		if !t.roleSent {
			out = append(out, t.envelope.Frame(map[string]interface{}{"role": "assistant"}, ""))
			t.roleSent = true
		}
		out = append(out, t.envelope.Frame(delta, finish))
	}

	switch event["type"] {
	case "message_start":
		if !t.roleSent {
			out = append(out, t.envelope.Frame(map[string]interface{}{"role": "assistant"}, ""))
			t.roleSent = true
		}

	case "content_block_start":
		block, _ := event["content_block"].(map[string]interface{})
		if block["type"] == "tool_use" {
			t.inToolUse = true
			t.toolIndex++
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			emit(map[string]interface{}{
				"tool_calls": []map[string]interface{}{{
					"index": t.toolIndex,
					"id":    SanitizeToolCallID(id),
					"type":  "function",
					"function": map[string]interface{}{
						"name":      name,
						"arguments": "",
					},
				}},
			}, "")
		} else {
			t.inToolUse = false
		}

	case "content_block_delta":
		delta, _ := event["delta"].(map[string]interface{})
		switch delta["type"] {
		case "text_delta":
			text, _ := delta["text"].(string)
			if text = t.filter.filter(text); text != "" {
				emit(map[string]interface{}{"content": text}, "")
			}
		case "input_json_delta":
			partial, _ := delta["partial_json"].(string)
			if t.inToolUse && partial != "" {
				emit(map[string]interface{}{
					"tool_calls": []map[string]interface{}{{
						"index":    t.toolIndex,
						"function": map[string]interface{}{"arguments": partial},
					}},
				}, "")
			}
		}

	case "content_block_stop":
		t.inToolUse = false

	case "message_delta":
		delta, _ := event["delta"].(map[string]interface{})
		if reason, ok := delta["stop_reason"].(string); ok && reason != "" {
			emit(map[string]interface{}{}, mapStopReason(anthropicStopReasons, reason))
			t.finishSent = true
		}

	case "message_stop":
		if !t.finishSent {
			emit(map[string]interface{}{}, "stop")
			t.finishSent = true
		}
	}
	return out
}

// geminiStream translates generate-content SSE chunks into A-shaped chunks.
type geminiStream struct {
	scanner  frameScanner
	envelope ChunkEnvelope
	filter   thinkingFilter

	roleSent   bool
	toolIndex  int
	finishSent bool
}

func newGeminiStream(model string) *geminiStream {
	return &geminiStream{envelope: NewChunkEnvelope(model), toolIndex: -1}
}

func (t *geminiStream) Feed(p []byte) [][]byte {
	var out [][]byte
	for _, frame := range t.scanner.feed(p) {
		out = append(out, t.translate(frame)...)
	}
	return out
}

func (t *geminiStream) Finish() [][]byte {
	var out [][]byte
	if rest := t.scanner.rest(); len(rest) > 0 {
		out = append(out, t.translate(rest)...)
	}
	if !t.finishSent {
		out = append(out, t.envelope.Frame(map[string]interface{}{}, "stop"))
	}
	return append(out, doneFrame)
}

func (t *geminiStream) translate(frame []byte) [][]byte {
	data, ok := frameDataLines(frame)
	if !ok {
		return nil
	}
	var chunk map[string]interface{}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil
	}

	var out [][]byte
	emit := func(delta map[string]interface{}, finish string) {
		if !t.roleSent {
			out = append(out, t.envelope.Frame(map[string]interface{}{"role": "assistant"}, ""))
			t.roleSent = true
		}
		out = append(out, t.envelope.Frame(delta, finish))
	}

	candidates, _ := chunk["candidates"].([]interface{})
	for _, rawCand := range candidates {
		cand, ok := rawCand.(map[string]interface{})
		if !ok {
			continue
		}
		text, calls := geminiCandidateParts(cand)
		if text = t.filter.filter(text); text != "" {
			emit(map[string]interface{}{"content": text}, "")
		}
		for _, call := range calls {
			t.toolIndex++
			call["index"] = t.toolIndex
			emit(map[string]interface{}{
				"tool_calls": []map[string]interface{}{call},
			}, "")
		}
		if finish, _ := cand["finishReason"].(string); finish != "" {
			emit(map[string]interface{}{}, mapStopReason(geminiFinishReasons, finish))
			t.finishSent = true
		}
	}
	return out
}
