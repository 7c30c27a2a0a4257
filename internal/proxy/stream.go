package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"frugal/internal/catalog"
	"frugal/internal/dedup"
	"frugal/internal/dialect"
)

const (
	// heartbeatInterval keeps intermediaries from timing out an idle stream.
	heartbeatInterval = 2 * time.Second

	heartbeatFrame = ": heartbeat\n\n"
)

// streamSink serializes writes to one SSE response. The heartbeat pump and
// the upstream relay share it; the first payload frame silences the pump for
// good.
type streamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu       sync.Mutex
	payload  bool
	closed   bool
	captured bytes.Buffer

	stop     chan struct{}
	stopOnce sync.Once
}

// newStreamSink flushes SSE headers and starts the heartbeat pump. The first
// heartbeat goes out immediately so the client sees bytes well inside 100 ms.
func newStreamSink(w http.ResponseWriter) *streamSink {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &streamSink{w: w, stop: make(chan struct{})}
	s.flusher, _ = w.(http.Flusher)

	s.beat()
	go s.pump()
	return s
}

func (s *streamSink) pump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

// beat writes one heartbeat comment frame unless payload has started.
func (s *streamSink) beat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload || s.closed {
		return
	}
	io.WriteString(s.w, heartbeatFrame)
	s.flush()
}

// WriteFrame sends a payload frame to the client and records it for replay.
func (s *streamSink) WriteFrame(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.payload {
		s.payload = true
		s.stopOnce.Do(func() { close(s.stop) })
	}
	s.w.Write(frame)
	s.captured.Write(frame)
	s.flush()
}

// started reports whether any payload reached the client.
func (s *streamSink) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload
}

// writeErrorFrame terminates the stream with an error frame and [DONE].
func (s *streamSink) writeErrorFrame(status int, code, message string) {
	frame, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"status":  status,
			"message": message,
		},
	})
	s.WriteFrame(append(append([]byte("data: "), frame...), '\n', '\n'))
	s.WriteFrame([]byte("data: [DONE]\n\n"))
}

// Captured returns the payload bytes sent so far.
func (s *streamSink) Captured() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.captured.Bytes()...)
}

// Close stops the heartbeat pump and blocks further writes.
func (s *streamSink) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *streamSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// relayStream copies an upstream streaming response to the client through the
// dialect translator. The first bytes decide whether the body really is SSE;
// a JSON body (a completion from an upstream that ignored the stream flag, or
// an error in a 200) is converted to synthesized chunks.
func (s *Server) relayStream(ctx context.Context, sink *streamSink, resp *http.Response, d catalog.Dialect, model string) (*dedup.Result, error) {
	defer resp.Body.Close()

	translator := dialect.NewStreamTranslator(d, model)
	buf := make([]byte, 32<<10)

	var prefix []byte
	format := dialect.FormatUndecided
	for format == dialect.FormatUndecided {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			prefix = append(prefix, buf[:n]...)
			format = dialect.DetectStreamFormat(prefix)
		}
		if err == io.EOF {
			if format == dialect.FormatUndecided {
				format = dialect.DetectStreamFormat(prefix)
				if format == dialect.FormatUndecided {
					return nil, fmt.Errorf("upstream closed before sending a recognizable body")
				}
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("upstream read: %w", err)
		}
	}

	if format == dialect.FormatJSON {
		rest, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("upstream read: %w", err)
		}
		return s.streamFromJSON(sink, append(prefix, rest...), d, model)
	}

	for _, frame := range translator.Feed(prefix) {
		sink.WriteFrame(frame)
	}
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range translator.Feed(buf[:n]) {
				sink.WriteFrame(frame)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("upstream read: %w", err)
		}
	}
	for _, frame := range translator.Finish() {
		sink.WriteFrame(frame)
	}

	return &dedup.Result{
		Status:      http.StatusOK,
		ContentType: "text/event-stream",
		Body:        sink.Captured(),
		Streamed:    true,
		Model:       model,
	}, nil
}

// streamFromJSON turns a non-stream completion body into chunk frames so a
// streaming client still gets a well-formed stream.
func (s *Server) streamFromJSON(sink *streamSink, body []byte, d catalog.Dialect, model string) (*dedup.Result, error) {
	completion, err := translateCompletion(body, d, model)
	if err != nil {
		return nil, err
	}
	frames, err := completionFrames(completion, model)
	if err != nil {
		return nil, err
	}
	for _, frame := range frames {
		sink.WriteFrame(frame)
	}
	return &dedup.Result{
		Status:      http.StatusOK,
		ContentType: "text/event-stream",
		Body:        sink.Captured(),
		Streamed:    true,
		Model:       model,
	}, nil
}

// relayOnce handles the non-streaming path: accumulate, translate, reply.
func (s *Server) relayOnce(w http.ResponseWriter, resp *http.Response, d catalog.Dialect, model string) (*dedup.Result, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream read: %w", err)
	}

	// An SSE body on a non-stream request happens when a pinned upstream
	// forces streaming; collapse it into one completion.
	if dialect.DetectStreamFormat(body) == dialect.FormatSSE {
		collapsed, err := collapseSSE(body, d, model)
		if err != nil {
			return nil, err
		}
		body = collapsed
	} else {
		body, err = translateCompletion(body, d, model)
		if err != nil {
			return nil, err
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)

	return &dedup.Result{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        body,
		Model:       model,
	}, nil
}

// translateCompletion converts a non-stream upstream body to an OpenAI
// completion per the source dialect.
func translateCompletion(body []byte, d catalog.Dialect, model string) ([]byte, error) {
	switch d {
	case catalog.DialectAnthropic:
		return dialect.TranslateAnthropicResponse(body, model)
	case catalog.DialectGemini:
		return dialect.TranslateGeminiResponse(body, model)
	default:
		var probe map[string]interface{}
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, fmt.Errorf("upstream body is not JSON")
		}
		return dialect.ScrubOpenAIResponse(body), nil
	}
}

// completionFrames splits an A-shaped completion into role, content,
// tool_calls and finish chunks in that order.
func completionFrames(completion []byte, model string) ([][]byte, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content   string        `json:"content"`
				ToolCalls []interface{} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(completion, &resp); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion has no choices")
	}
	choice := resp.Choices[0]

	env := dialect.NewChunkEnvelope(model)
	frames := [][]byte{env.Frame(map[string]interface{}{"role": "assistant"}, "")}
	if choice.Message.Content != "" {
		frames = append(frames, env.Frame(map[string]interface{}{"content": choice.Message.Content}, ""))
	}
	if len(choice.Message.ToolCalls) > 0 {
		frames = append(frames, env.Frame(map[string]interface{}{"tool_calls": choice.Message.ToolCalls}, ""))
	}
	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}
	frames = append(frames, env.Frame(map[string]interface{}{}, finish))
	frames = append(frames, []byte("data: [DONE]\n\n"))
	return frames, nil
}

// collapseSSE feeds a whole SSE body through the stream translator and folds
// the chunks back into a single completion object.
func collapseSSE(body []byte, d catalog.Dialect, model string) ([]byte, error) {
	translator := dialect.NewStreamTranslator(d, model)
	frames := translator.Feed(body)
	frames = append(frames, translator.Finish()...)

	var content bytes.Buffer
	finish := "stop"
	for _, frame := range frames {
		payload := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(frame), []byte("data:")))
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(payload, &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			content.WriteString(c.Delta.Content)
			if c.FinishReason != "" {
				finish = c.FinishReason
			}
		}
	}

	out := map[string]interface{}{
		"id":      dialect.CompletionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index": 0,
			"message": map[string]interface{}{
				"role":    "assistant",
				"content": content.String(),
			},
			"finish_reason": finish,
		}},
	}
	return json.Marshal(out)
}
