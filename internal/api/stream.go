package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode"
)

// streamMeta is the framed metadata block that precedes the streamed
// reply text. Frontends parse it out of the byte stream by locating the
// sentinels, so the block must be written in one piece before any text.
type streamMeta struct {
	Agent              string  `json:"agent"`
	NextAction         string  `json:"nextAction,omitempty"`
	Confidence         float64 `json:"confidence"`
	RequiresEscalation bool    `json:"requiresEscalation"`
}

const (
	metaStart = "__META_START__"
	metaEnd   = "__META_END__"
)

// paceInterval never returns zero so ticker construction is safe.
func (s *Server) paceInterval() time.Duration {
	if s.pace > 0 {
		return s.pace
	}
	return time.Millisecond
}

// frameMeta renders the sentinel-delimited meta block as one write.
func frameMeta(meta streamMeta, logger *slog.Logger) []byte {
	body, err := json.Marshal(meta)
	if err != nil {
		logger.Error("meta encode failed", "error", err)
		body = []byte("{}")
	}
	frame := make([]byte, 0, len(metaStart)+len(body)+len(metaEnd))
	frame = append(frame, metaStart...)
	frame = append(frame, body...)
	frame = append(frame, metaEnd...)
	return frame
}

// tokenize splits text into alternating word and whitespace runs. Both
// kinds are kept so concatenating the fragments reproduces the text
// byte for byte.
func tokenize(text string) []string {
	var fragments []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > 0 && space != inSpace {
			fragments = append(fragments, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		fragments = append(fragments, text[start:])
	}
	return fragments
}

// handleChatStream computes the full turn, then replays it as a framed
// meta block followed by paced text fragments. The turn is already
// complete and recorded when streaming begins, so a client that
// disconnects mid-stream loses only presentation, never state.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req := s.parseChatRequest(w, r)
	if req == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cust := req.CustomerContext.WithDefaults(req.Language)
	result := s.orch.ProcessTurn(r.Context(), req.SessionID, req.Message, cust)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	meta := streamMeta{
		Agent:              result.Agent,
		NextAction:         result.NextAction,
		Confidence:         result.Confidence,
		RequiresEscalation: result.RequiresEscalation,
	}
	if _, err := w.Write(frameMeta(meta, s.logger)); err != nil {
		s.logger.Debug("stream write failed", "error", err)
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.paceInterval())
	defer ticker.Stop()

	for _, fragment := range tokenize(result.Message) {
		select {
		case <-r.Context().Done():
			s.logger.Debug("client disconnected mid-stream", "session", req.SessionID)
			return
		case <-ticker.C:
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			s.logger.Debug("stream write failed", "error", err)
			return
		}
		flusher.Flush()
	}
}
