package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/protocol"
	"github.com/webim/im-server/internal/store"
)

type sendMessageRequest struct {
	ToUserID         string `json:"to_user_id"`
	Content          string `json:"content"`
	MessageType      string `json:"message_type"`
	ConversationType string `json:"conversation_type"`
	GroupID          string `json:"group_id"`
}

type receiveMessage struct {
	ConversationType string `json:"conversation_type"`
	FromUserID       string `json:"from_user_id"`
	FromUsername     string `json:"from_username"`
	Content          string `json:"content"`
	MessageType      string `json:"message_type"`
	Timestamp        int64  `json:"timestamp"`
	GroupID          string `json:"group_id,omitempty"`
	ToUserID         string `json:"to_user_id,omitempty"`
}

// handleSendMessage relays one chat message: group fan-out, broadcast
// ("all"), or single recipient. The sender is included in group fan-out;
// clients filter the echo if they want to.
func (h *Handlers) handleSendMessage(ctx context.Context, c *registry.Client, payload []byte) {
	var req sendMessageRequest
	h.parse(c, payload, &req)

	if req.Content == "" {
		h.sendError(c, 1002, "消息内容不能为空")
		return
	}

	info := c.Info()
	isGroup := req.ConversationType == "group"
	if isGroup && req.GroupID == "" {
		h.sendError(c, 3002, "group_id 不能为空")
		return
	}

	msgType := req.MessageType
	if msgType == "" {
		msgType = "text"
	}
	msg := receiveMessage{
		ConversationType: "single",
		FromUserID:       strconv.FormatInt(info.UserID, 10),
		FromUsername:     info.Username,
		Content:          req.Content,
		MessageType:      msgType,
		Timestamp:        time.Now().Unix(),
	}
	if isGroup {
		msg.ConversationType = "group"
		msg.GroupID = req.GroupID
	} else if req.ToUserID != "" && req.ToUserID != "all" {
		msg.ToUserID = req.ToUserID
	}

	if isGroup {
		h.relayGroupMessage(ctx, c, info.UserID, req.GroupID, msg)
		return
	}

	switch {
	case req.ToUserID == "all":
		n := h.broadcast(c, msg)
		h.log.Info("broadcast message",
			"from", info.Username, "delivered", n)
	case req.ToUserID == "":
		h.sendError(c, 1003, "目标用户ID不能为空")
	default:
		targetID, err := strconv.ParseInt(req.ToUserID, 10, 64)
		if err != nil || !h.gw.IsOnline(targetID) {
			h.reply(c, protocol.MsgError, errorPayload{
				ErrorCode:    1004,
				ErrorMessage: "目标用户不在线",
				ToUserID:     req.ToUserID,
			})
			h.log.Warn("direct message target offline",
				"from", info.Username, "to", req.ToUserID)
			return
		}
		data := h.marshal(msg)
		h.gw.SendToUser(targetID, protocol.MsgReceiveMessage, data)
		h.log.Info("direct message relayed",
			"from", info.Username, "to", req.ToUserID)
	}
}

func (h *Handlers) relayGroupMessage(ctx context.Context, c *registry.Client, senderID int64, groupID string, msg receiveMessage) {
	gid, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		h.sendError(c, 3002, "group_id 不能为空")
		return
	}

	isMember, err := h.groups.IsMember(ctx, gid, senderID)
	if err != nil {
		h.storeError(c, err, 5001, "查询群成员失败")
		return
	}
	if !isMember {
		h.sendError(c, 3100, "您不是该群成员，无法发送群消息")
		return
	}

	memberIDs, err := h.groups.MemberIDs(ctx, gid)
	if err != nil {
		h.storeError(c, err, 5002, "查询群成员列表失败")
		return
	}

	data := h.marshal(msg)
	n := h.gw.SendToUsers(memberIDs, protocol.MsgReceiveMessage, data)
	h.log.Info("group message relayed",
		"group_id", groupID, "from", msg.FromUsername,
		"members", len(memberIDs), "delivered", n)
}

func (h *Handlers) broadcast(c *registry.Client, msg receiveMessage) int {
	return h.gw.Broadcast(c.ID(), protocol.MsgReceiveMessage, h.marshal(msg))
}

// storeError maps a store failure onto the wire: an unreachable database is
// always 5000, anything else uses the operation's own code.
func (h *Handlers) storeError(c *registry.Client, err error, code int, msg string) {
	if errors.Is(err, store.ErrUnavailable) {
		h.sendError(c, 5000, "服务器数据库未连接")
		return
	}
	h.log.Error("store operation failed", "conn_id", c.ID(), "error", err)
	h.sendError(c, code, msg)
}
