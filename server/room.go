package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"protorelay/server/audit"
	"protorelay/server/protocol"
	"protorelay/server/session"
)

// apply 执行通过管线的动作；状态错误只记录调试日志
func (h *Hub) apply(conn string, a protocol.Action) {
	switch act := a.(type) {
	case protocol.CreateRoom:
		if _, _, err := h.state.CreateRoom(conn, act); err != nil {
			h.log.Debugw("create room failed", "conn", conn, "err", err)
		}
	case protocol.JoinRoom:
		if _, err := h.state.JoinRoom(conn, act.RoomID, act.GameVersion, false); err != nil {
			h.log.Debugw("join room failed", "conn", conn, "room", act.RoomID, "err", err)
		}
	case protocol.RPCAction:
		h.metrics.AddForwarded(h.state.SendToAllInRoom(conn, act))
	case protocol.GetRoomList:
		h.state.SendRoomList(conn, act.EmptyOnly, act.Amount)
	case protocol.GetCurrentPlayers:
		if !h.state.SendCurrentPlayers(conn) {
			h.log.Debugw("current players requested outside a room", "conn", conn)
		}
	case protocol.Leave:
		h.leave(conn)
	default:
		h.log.Warnw("unhandled action", "conn", conn, "action", a.Type())
	}
}

// AdminChatText 管理员消息在游戏内的显示格式
func AdminChatText(msg string) string {
	return "<b>" + protocol.Colorize(protocol.ColorRed, "[ADMIN]") + "</b>: " + msg
}

// Broadcast 管理员聊天；roomID 为空时发给所有连接。返回收到消息的连接数。
func (h *Hub) Broadcast(ctx context.Context, roomID, msg string) (int, error) {
	a := protocol.ChatAction(protocol.ServerSender, AdminChatText(msg))
	var (
		sent     int
		roomName = "Global"
		err      error
	)
	execErr := h.Exec(ctx, func(st *session.State) {
		if roomID == "" {
			for _, c := range h.conns.All() {
				st.SendRPCTo(c.ID(), a)
				sent++
			}
			return
		}
		room := st.Room(roomID)
		if room == nil {
			err = session.ErrRoomNotFound
			return
		}
		roomName = room.Name
		sent = st.BroadcastRPC(roomID, a)
	})
	if execErr != nil {
		return 0, execErr
	}
	if err != nil {
		return 0, err
	}

	now := h.opts.Now()
	target := roomID
	if target == "" {
		target = "Global"
	}
	h.feed.ForwardChat(audit.ChatEvent{
		SenderID:   "0",
		SenderName: "Admin",
		RoomID:     target,
		RoomName:   roomName,
		Message:    msg,
		At:         now,
	})
	h.audit.AdminAction(audit.AdminEvent{Action: "broadcast", Target: target, Detail: msg, At: now})
	h.log.Infow("admin broadcast", "room", target, "recipients", sent)
	return sent, nil
}

// Kick 立即发送踢出通知，KickDelay 之后断开连接
func (h *Hub) Kick(ctx context.Context, playerID, reason string) error {
	if reason == "" {
		reason = "No reason provided"
	}
	var conn string
	err := h.Exec(ctx, func(st *session.State) {
		p := st.PlayerByID(playerID)
		if p == nil {
			return
		}
		conn = p.Conn
		st.SendTo(conn, protocol.Marshal(protocol.NewKickNotice(
			"You have been kicked from the server. Reason: "+reason)))
	})
	if err != nil {
		return err
	}
	if conn == "" {
		return ErrPlayerNotFound
	}

	time.AfterFunc(h.opts.KickDelay, func() {
		if c := h.conns.Get(conn); c != nil {
			c.Close(websocket.ClosePolicyViolation, "kicked")
		}
	})
	h.feed.Publish(FeedMessage{Type: FeedKick, Data: map[string]any{
		"playerId":  playerID,
		"reason":    reason,
		"timestamp": h.opts.Now(),
	}})
	h.audit.AdminAction(audit.AdminEvent{Action: "kick", Target: playerID, Detail: reason, At: h.opts.Now()})
	h.log.Infow("player kicked", "player", playerID, "reason", reason)
	return nil
}

// IsNotFound 管理接口用于区分 404
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, session.ErrRoomNotFound)
}
