package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers talk to this endpoint from the frontend origin; the
	// service carries no cookies or credentials worth protecting.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is one message on the websocket chat channel. Kind is "meta"
// for the turn metadata, "text" for a reply fragment, and "done" when
// the turn is fully delivered.
type wsFrame struct {
	Kind string      `json:"kind"`
	Meta *streamMeta `json:"meta,omitempty"`
	Text string      `json:"text,omitempty"`
}

// handleChatWS serves one chat turn per received message: the client
// sends a chat request, gets a meta frame, paced text frames, and a
// done frame, then may send the next request on the same connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if req.Message == "" || req.SessionID == "" {
			if err := conn.WriteJSON(map[string]string{"error": "message and sessionId required"}); err != nil {
				return
			}
			continue
		}

		cust := req.CustomerContext.WithDefaults(req.Language)
		result := s.orch.ProcessTurn(r.Context(), req.SessionID, req.Message, cust)

		meta := streamMeta{
			Agent:              result.Agent,
			NextAction:         result.NextAction,
			Confidence:         result.Confidence,
			RequiresEscalation: result.RequiresEscalation,
		}
		if err := s.writeWSFrame(conn, wsFrame{Kind: "meta", Meta: &meta}); err != nil {
			return
		}

		ticker := time.NewTicker(s.paceInterval())
		for _, fragment := range tokenize(result.Message) {
			select {
			case <-r.Context().Done():
				ticker.Stop()
				return
			case <-ticker.C:
			}
			if err := s.writeWSFrame(conn, wsFrame{Kind: "text", Text: fragment}); err != nil {
				ticker.Stop()
				return
			}
		}
		ticker.Stop()

		if err := s.writeWSFrame(conn, wsFrame{Kind: "done"}); err != nil {
			return
		}
	}
}

func (s *Server) writeWSFrame(conn *websocket.Conn, frame wsFrame) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
