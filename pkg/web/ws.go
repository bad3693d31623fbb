package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudnav-ai/cloudnav/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients cannot set Authorization headers on WebSocket
	// upgrades from arbitrary origins; the bearer token check below is the
	// real gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is one message on the prompt stream.
type wsEvent struct {
	Type           string          `json:"type"` // stage, summary_chunk, result, error
	Stage          string          `json:"stage,omitempty"`
	Chunk          string          `json:"chunk,omitempty"`
	Result         *PromptResponse `json:"result,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

// wsPromptRequest is the first client message on the socket. The token rides
// in the message because browsers cannot attach headers to upgrades.
type wsPromptRequest struct {
	PromptRequest
	Token string `json:"token"`
}

// handlePromptWS runs the same pipeline as /api/prompt but streams stage
// transitions and summary chunks as they happen. One prompt per connection.
func (s *Server) handlePromptWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	send := func(ev wsEvent) {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debugf("websocket write failed: %v", err)
		}
	}

	var req wsPromptRequest
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err := conn.ReadJSON(&req); err != nil {
		send(wsEvent{Type: "error", Error: NewAPIError(ErrCodeBadRequest, "first message must be a prompt request")})
		return
	}

	if req.Token == "" {
		send(wsEvent{Type: "error", Error: NewAPIError(ErrCodeUnauthorized, "prompt request must carry a token")})
		return
	}
	if req.Prompt == "" {
		send(wsEvent{Type: "error", Error: NewAPIError(ErrCodeValidation, "prompt must not be empty")})
		return
	}

	hooks := &promptHooks{
		onStage:      func(stage string) { send(wsEvent{Type: "stage", Stage: stage}) },
		summaryChunk: func(chunk string) { send(wsEvent{Type: "summary_chunk", Chunk: chunk}) },
	}

	resp, _, apiErr := s.runPrompt(r.Context(), &req.PromptRequest, req.Token, getClientIdentifier(r), hooks)
	if apiErr != nil {
		send(wsEvent{Type: "error", Error: apiErr})
		return
	}
	send(wsEvent{Type: "result", Result: resp, ConversationID: resp.ConversationID})
}
