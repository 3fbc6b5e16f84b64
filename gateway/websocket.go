// WebSocket transport for tool calls

package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/gliderlab/mcpgate/rpcproto"
)

const (
	MsgTypeCall   = "call"
	MsgTypeResult = "result"
	MsgTypeList   = "list"
	MsgTypeTools  = "tools"
	MsgTypeError  = "error"
	MsgTypePing   = "ping"
	MsgTypePong   = "pong"
)

// WSMessage is the envelope for both directions. ID is echoed back so that
// clients can match concurrent calls to their results.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type wsReply struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Content interface{} `json:"content,omitempty"`
}

type wsError struct {
	Error string `json:"error"`
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	g.serveWS(ctx, conn)
}

func (g *Gateway) serveWS(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	g.log.Debug().Msg("websocket client connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				g.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.sendWS(ctx, conn, wsReply{Type: MsgTypeError, Content: wsError{Error: "invalid message format"}})
			continue
		}

		switch msg.Type {
		case MsgTypeCall:
			go g.handleWSCall(ctx, conn, msg)
		case MsgTypeList:
			g.sendWS(ctx, conn, wsReply{Type: MsgTypeTools, ID: msg.ID, Content: rpcproto.ListToolsReply{Tools: g.registry.Tools()}})
		case MsgTypePing:
			g.sendWS(ctx, conn, wsReply{Type: MsgTypePong, ID: msg.ID})
		default:
			g.sendWS(ctx, conn, wsReply{Type: MsgTypeError, ID: msg.ID, Content: wsError{Error: "unknown message type: " + msg.Type}})
		}
	}
}

func (g *Gateway) handleWSCall(ctx context.Context, conn *websocket.Conn, msg WSMessage) {
	var req rpcproto.CallRequest
	if err := json.Unmarshal(msg.Content, &req); err != nil {
		g.sendWS(ctx, conn, wsReply{Type: MsgTypeError, ID: msg.ID, Content: wsError{Error: "invalid request: " + err.Error()}})
		return
	}
	args, err := req.DecodeArguments()
	if err != nil {
		g.sendWS(ctx, conn, wsReply{Type: MsgTypeError, ID: msg.ID, Content: wsError{Error: err.Error()}})
		return
	}
	resp := g.router.Call(ctx, req.Name, args)
	g.sendWS(ctx, conn, wsReply{Type: MsgTypeResult, ID: msg.ID, Content: resp})
}

func (g *Gateway) sendWS(ctx context.Context, conn *websocket.Conn, reply wsReply) {
	if err := wsjson.Write(ctx, conn, reply); err != nil && ctx.Err() == nil {
		g.log.Debug().Err(err).Str("type", reply.Type).Msg("websocket write")
	}
}
