package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"
	"github.com/gorilla/websocket"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsMessage struct {
	Chunk  string `json:"chunk,omitempty"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AskWebsocketHandler reads one ask request per connection and replies with
// one message per fragment, followed by a completion or error message.
func AskWebsocketHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			c.Error(err)
			return
		}
		defer conn.Close()

		var req rags.AskRequest
		if err := conn.ReadJSON(&req); err != nil {
			conn.WriteJSON(wsMessage{Error: err.Error()})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// a closed connection cancels the answer
		go func() {
			defer cancel()

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		resp, err := endpoint(ctx, req)
		if err != nil {
			conn.WriteJSON(wsMessage{Error: err.Error()})
			return
		}

		stream, ok := resp.(rags.Stream)
		if !ok {
			conn.WriteJSON(wsMessage{Error: "invalid response type"})
			return
		}
		defer stream.Close()

		for {
			fragment, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				conn.WriteJSON(wsMessage{Error: err.Error()})
				return
			}

			if err := conn.WriteJSON(wsMessage{Chunk: fragment}); err != nil {
				c.Error(err)
				return
			}
		}

		conn.WriteJSON(wsMessage{Type: "completion", Status: "finished"})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
