package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBuffer     = 64
	maxCloseReason = 123
)

// Client 一个 WebSocket 连接：读协程解码入站帧交给 Hub，写协程写出批量帧
type Client struct {
	id      string
	ws      *websocket.Conn
	hub     *Hub
	send    chan []byte
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	closeOnce   sync.Once
	closed      chan struct{}
	closeCode   int
	closeReason string
}

func newClient(ws *websocket.Conn, hub *Hub) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		ws:      ws,
		hub:     hub,
		send:    make(chan []byte, sendBuffer),
		limiter: hub.newFrameLimiter(),
		log:     hub.log.With("conn", id),
		closed:  make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// TrySend 非阻塞入队；写缓冲满时返回 false，由批量器保留消息到下一个 Tick
func (c *Client) TrySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close 幂等；写协程写出剩余数据与关闭帧后关闭底层连接
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		c.closeCode, c.closeReason = code, reason
		close(c.closed)
	})
}

func (c *Client) write(kind int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(kind, data)
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.BinaryMessage, frame); err != nil {
				c.log.Debugw("write failed", "err", err)
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.closed:
			c.flushPending()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flushPending 关闭前写出已入队的帧（如错误说明）
func (c *Client) flushPending() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.BinaryMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump 读取入站帧；退出时通知 Hub 在其协程中清理
func (c *Client) readPump() {
	reason := "client closed"
	defer func() {
		c.hub.Disconnect(c.id, reason)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.ws.SetReadLimit(c.hub.opts.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.hub.health.Touch(c.id, c.hub.opts.Now())
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.ws.SetPingHandler(func(data string) error {
		c.hub.health.Touch(c.id, c.hub.opts.Now())
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				reason = "frame too large"
				c.hub.terminate(c, "frame_too_large", "Frame too large", websocket.CloseMessageTooBig)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				reason = "unexpected close"
				c.log.Debugw("read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if !c.hub.Ingest(c, c.limiter, frame, c.hub.opts.Now()) {
			reason = "terminated"
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 游戏客户端不是浏览器，不做来源校验
		return true
	},
}

// HandleWS 游戏客户端接入
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := newClient(ws, h)
	h.Register(c)
	h.log.Infow("client connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}
