package dialect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frugal/internal/catalog"
)

func chatBody(messages ...map[string]interface{}) map[string]interface{} {
	raw := make([]interface{}, len(messages))
	for i, m := range messages {
		raw[i] = m
	}
	return map[string]interface{}{"model": "auto", "messages": raw}
}

func msg(role, content string) map[string]interface{} {
	return map[string]interface{}{"role": role, "content": content}
}

func TestTranslateRequest_OpenAIDirect(t *testing.T) {
	body := chatBody(msg("user", "hi"))
	out, err := TranslateRequest(body, catalog.DialectOpenAI, "openai/gpt-4o-mini", false)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", out["model"])
	assert.Equal(t, "auto", body["model"], "inbound body must not be mutated")
}

func TestTranslateRequest_OpenAIViaGateway(t *testing.T) {
	out, err := TranslateRequest(chatBody(msg("user", "hi")), catalog.DialectOpenAI, "anthropic/claude-sonnet-4", true)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4", out["model"], "gateway wants the full slug")
}

func TestTranslateRequest_RoleRemapAndIDSanitize(t *testing.T) {
	body := chatBody(
		msg("developer", "be terse"),
		msg("user", "go"),
	)
	messages := body["messages"].([]interface{})
	messages = append(messages, map[string]interface{}{
		"role": "assistant",
		"tool_calls": []interface{}{
			map[string]interface{}{"id": "call:weird/id!", "type": "function"},
		},
		"thinking": "hmm",
	})
	body["messages"] = messages

	out, err := TranslateRequest(body, catalog.DialectOpenAI, "openai/gpt-4o", false)
	require.NoError(t, err)

	got := out["messages"].([]interface{})
	assert.Equal(t, "system", got[0].(map[string]interface{})["role"])

	last := got[2].(map[string]interface{})
	call := last["tool_calls"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "call_weird_id_", call["id"])
	assert.Contains(t, last, "reasoning_content")
}

func TestTranslateRequest_MessagesDialect(t *testing.T) {
	body := chatBody(
		msg("system", "you are helpful"),
		msg("system", "and brief"),
		msg("user", "first"),
		msg("user", "second"),
		msg("assistant", "reply"),
	)
	out, err := TranslateRequest(body, catalog.DialectAnthropic, "anthropic/claude-sonnet-4", false)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", out["model"])
	assert.Equal(t, "you are helpful\n\nand brief", out["system"])
	assert.Equal(t, defaultMaxTokens, out["max_tokens"])

	msgs := out["messages"].([]map[string]interface{})
	require.Len(t, msgs, 2, "consecutive user messages merge")
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "first\n\nsecond", msgs[0]["content"])
	assert.Equal(t, "assistant", msgs[1]["role"])
}

func TestTranslateRequest_MessagesDialectKeepsMaxTokens(t *testing.T) {
	body := chatBody(msg("user", "hi"))
	body["max_tokens"] = 128
	body["stop"] = "END"
	body["stream"] = true

	out, err := TranslateRequest(body, catalog.DialectAnthropic, "anthropic/claude-3-5-haiku", false)
	require.NoError(t, err)
	assert.Equal(t, 128, out["max_tokens"])
	assert.Equal(t, []string{"END"}, out["stop_sequences"])
	assert.Equal(t, true, out["stream"])
}

func TestTranslateRequest_MessagesDialectLeadingAssistant(t *testing.T) {
	out, err := TranslateRequest(chatBody(msg("assistant", "earlier reply")), catalog.DialectAnthropic, "anthropic/claude-sonnet-4", false)
	require.NoError(t, err)

	msgs := out["messages"].([]map[string]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "(continuing conversation)", msgs[0]["content"])
}

func TestTranslateRequest_GenerateContent(t *testing.T) {
	body := chatBody(
		msg("system", "sys"),
		msg("user", "question"),
		msg("assistant", "answer"),
	)
	body["max_tokens"] = 256
	body["temperature"] = 0.2

	out, err := TranslateRequest(body, catalog.DialectGemini, "google/gemini-2.0-flash", false)
	require.NoError(t, err)

	contents := out["contents"].([]map[string]interface{})
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0]["role"])
	assert.Equal(t, "model", contents[1]["role"])

	sys := out["systemInstruction"].(map[string]interface{})
	assert.Equal(t, "sys", sys["parts"].([]map[string]interface{})[0]["text"])

	gen := out["generationConfig"].(map[string]interface{})
	assert.Equal(t, 256, gen["maxOutputTokens"])
	assert.Equal(t, 0.2, gen["temperature"])
}

func TestTranslateRequest_GenerateContentInjectsUserTurn(t *testing.T) {
	out, err := TranslateRequest(chatBody(msg("assistant", "prior")), catalog.DialectGemini, "google/gemini-2.0-flash", false)
	require.NoError(t, err)

	contents := out["contents"].([]map[string]interface{})
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0]["role"])
	parts := contents[0]["parts"].([]map[string]interface{})
	assert.Equal(t, "(continuing conversation)", parts[0]["text"])
}

func TestContentText_PartsList(t *testing.T) {
	content := []interface{}{
		map[string]interface{}{"type": "text", "text": "a"},
		map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{}},
		map[string]interface{}{"type": "text", "text": "b"},
	}
	assert.Equal(t, "ab", ContentText(content))
	assert.Equal(t, "plain", ContentText("plain"))
	assert.Equal(t, "", ContentText(42))
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, "system", NormalizeRole("developer"))
	assert.Equal(t, "assistant", NormalizeRole("model"))
	assert.Equal(t, "user", NormalizeRole("robot"))
	assert.Equal(t, "tool", NormalizeRole("tool"))
}

func TestUpstreamURL(t *testing.T) {
	assert.Equal(t,
		"https://api.openai.com/v1/chat/completions",
		UpstreamURL("https://api.openai.com/v1", catalog.DialectOpenAI, "openai/gpt-4o", true))
	assert.Equal(t,
		"https://api.anthropic.com/v1/messages",
		UpstreamURL("https://api.anthropic.com", catalog.DialectAnthropic, "anthropic/claude-sonnet-4", true))
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:streamGenerateContent?alt=sse",
		UpstreamURL("https://generativelanguage.googleapis.com", catalog.DialectGemini, "google/gemini-2.0-flash", true))
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		UpstreamURL("https://generativelanguage.googleapis.com", catalog.DialectGemini, "google/gemini-2.0-flash", false))
}

func TestApplyHeaders(t *testing.T) {
	h := make(map[string][]string)

	ApplyHeaders(h, catalog.DialectOpenAI, "sk-or", true)
	assert.Equal(t, "Bearer sk-or", h["Authorization"][0])
	assert.NotEmpty(t, h["Http-Referer"])
	assert.Equal(t, "frugal", h["X-Title"][0])
	assert.True(t, strings.HasPrefix(h["User-Agent"][0], "frugal/"))

	h = make(map[string][]string)
	ApplyHeaders(h, catalog.DialectAnthropic, "sk-ant", false)
	assert.Equal(t, "sk-ant", h["X-Api-Key"][0])
	assert.Equal(t, "2023-06-01", h["Anthropic-Version"][0])

	h = make(map[string][]string)
	ApplyHeaders(h, catalog.DialectGemini, "sk-g", false)
	assert.Equal(t, "sk-g", h["X-Goog-Api-Key"][0])
}
