package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/vesselwatch/internal/statusfeed"
	"github.com/your-org/vesselwatch/pkg/dto"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusStream pushes every status feed snapshot to WebSocket clients as a
// JSON array.
type StatusStream struct {
	feed *statusfeed.Feed
}

func NewStatusStream(feed *statusfeed.Feed) *StatusStream {
	return &StatusStream{feed: feed}
}

// HandleWS handles WebSocket upgrade requests.
func (s *StatusStream) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &client{
		conn: conn,
		sub:  s.feed.Subscribe(),
		feed: s.feed,
	}
	slog.Debug("status ws client connected", "ip", c.ClientIP())

	go client.writePump()
	go client.readPump()
}

type client struct {
	conn *websocket.Conn
	sub  *statusfeed.Subscription
	feed *statusfeed.Feed
}

func (c *client) writePump() {
	defer func() {
		c.feed.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for snap := range c.sub.C {
		msg, err := json.Marshal(dto.StatusesToResponse(snap))
		if err != nil {
			slog.Error("marshal status snapshot", "error", err)
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump only detects disconnection; client messages are discarded.
func (c *client) readPump() {
	defer func() {
		c.feed.Unsubscribe(c.sub)
		slog.Debug("status ws client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
