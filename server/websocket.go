package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/chat"
)

// answerChunkRunes is the chunk size for streamed answers. Answers are
// chunked by rune so multi-byte Hangul never splits across frames.
const answerChunkRunes = 40

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service fronts a first-party web client; origin policy is the
	// reverse proxy's job.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsRequest is one inbound client frame.
type wsRequest struct {
	SessionID string          `json:"session_id"`
	Text      string          `json:"message"`
	Customer  bankchat.Fields `json:"customer,omitempty"`
}

// wsFrame is one outbound frame. Type is "start", "response", "end", or
// "error".
type wsFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleWebSocket serves a chat conversation over one WebSocket connection.
// Each inbound message runs a full turn; the answer streams back in chunks
// framed by start and end markers.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return nil
		}
		if req.Text == "" {
			if err := conn.WriteJSON(wsFrame{Type: "error", Message: "message is required"}); err != nil {
				return nil
			}
			continue
		}

		resp, err := s.service.Handle(ctx, chat.Request{
			SessionID: req.SessionID,
			Text:      req.Text,
			Customer:  req.Customer,
		})
		if err != nil {
			if writeErr := conn.WriteJSON(wsFrame{Type: "error", Message: "turn failed"}); writeErr != nil {
				return nil
			}
			continue
		}

		if err := s.streamAnswer(conn, resp); err != nil {
			return nil
		}
	}
}

func (s *Server) streamAnswer(conn *websocket.Conn, resp *chat.Response) error {
	if err := conn.WriteJSON(wsFrame{Type: "start", SessionID: resp.SessionID, TurnID: resp.TurnID}); err != nil {
		return err
	}
	for _, chunk := range chunkRunes(resp.Answer, answerChunkRunes) {
		if err := conn.WriteJSON(wsFrame{Type: "response", Content: chunk}); err != nil {
			return err
		}
	}
	return conn.WriteJSON(wsFrame{Type: "end", SessionID: resp.SessionID, TurnID: resp.TurnID})
}

// chunkRunes splits s into chunks of at most size runes.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
