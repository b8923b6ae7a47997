package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webim/im-server/internal/domain/model"
	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/metrics"
	"github.com/webim/im-server/internal/protocol"
	"github.com/webim/im-server/internal/store"
)

// Handlers is the packet-type switch plus the per-domain business logic.
// One instance serves all connections; handler methods run on pool workers.
type Handlers struct {
	gw      Gateway
	users   store.UserStore
	friends store.FriendStore
	groups  store.GroupStore
	met     *metrics.Metrics
	log     *slog.Logger
}

func New(
	gw Gateway,
	users store.UserStore,
	friends store.FriendStore,
	groups store.GroupStore,
	met *metrics.Metrics,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		gw:      gw,
		users:   users,
		friends: friends,
		groups:  groups,
		met:     met,
		log:     log,
	}
}

// Handle classifies one packet. Login, register, and heartbeat are reachable
// without authentication; everything else answers ERROR 1001 until the
// connection has logged in. The connection survives every handler-level
// failure.
func (h *Handlers) Handle(ctx context.Context, c *registry.Client, pkt protocol.Packet) {
	label := fmt.Sprintf("0x%04X", uint16(pkt.Type))
	h.met.PacketsHandled.WithLabelValues(label).Inc()
	start := time.Now()
	defer func() {
		h.met.HandlerDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if !pkt.Type.IsHeartbeat() {
		h.log.Debug("packet received",
			"conn_id", c.ID(), "type", label, "payload_len", len(pkt.Payload))
	}

	switch pkt.Type {
	case protocol.MsgLoginRequest:
		h.handleLogin(ctx, c, pkt.Payload)
		return
	case protocol.MsgRegisterRequest:
		h.handleRegister(ctx, c, pkt.Payload)
		return
	case protocol.MsgHeartbeat:
		h.handleHeartbeat(c)
		return
	}

	if _, authed := c.Identity(); !authed {
		h.sendError(c, 1001, "请先登录")
		return
	}

	switch pkt.Type {
	case protocol.MsgSendMessage:
		h.handleSendMessage(ctx, c, pkt.Payload)
	case protocol.MsgUserListRequest:
		h.handleUserList(c)
	case protocol.MsgLogout:
		h.log.Info("client logout", "conn_id", c.ID())
		c.Close()

	case protocol.MsgFriendApplyRequest:
		h.handleFriendApply(ctx, c, pkt.Payload)
	case protocol.MsgFriendHandleRequest:
		h.handleFriendAction(ctx, c, pkt.Payload)
	case protocol.MsgFriendListRequest:
		h.handleFriendList(ctx, c)
	case protocol.MsgFriendDeleteRequest:
		h.handleFriendDelete(ctx, c, pkt.Payload)
	case protocol.MsgFriendBlockRequest:
		h.handleFriendBlock(ctx, c, pkt.Payload)

	case protocol.MsgGroupCreateRequest:
		h.handleGroupCreate(ctx, c, pkt.Payload)
	case protocol.MsgGroupListRequest:
		h.handleGroupList(ctx, c)
	case protocol.MsgGroupMemberListRequest:
		h.handleGroupMemberList(ctx, c, pkt.Payload)
	case protocol.MsgGroupInviteRequest:
		h.handleGroupInvite(ctx, c, pkt.Payload)
	case protocol.MsgGroupKickRequest:
		h.handleGroupKick(ctx, c, pkt.Payload)
	case protocol.MsgGroupQuitRequest:
		h.handleGroupQuit(ctx, c, pkt.Payload)
	case protocol.MsgGroupDismissRequest:
		h.handleGroupDismiss(ctx, c, pkt.Payload)
	case protocol.MsgGroupUpdateInfoRequest:
		h.handleGroupUpdateInfo(ctx, c, pkt.Payload)

	default:
		h.log.Warn("unknown message type", "conn_id", c.ID(), "type", label)
	}
}

// Disconnected runs after a connection has left the registry.
func (h *Handlers) Disconnected(_ context.Context, info model.ClientInfo) {
	if info.Authenticated {
		h.log.Info("user offline",
			"user_id", info.UserID, "username", info.Username, "conn_id", info.ConnID)
	}
}

// errorPayload is the ERROR frame body.
type errorPayload struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	ToUserID     string `json:"to_user_id,omitempty"`
}

func (h *Handlers) sendError(c *registry.Client, code int, msg string) {
	h.reply(c, protocol.MsgError, errorPayload{ErrorCode: code, ErrorMessage: msg})
}

// failurePayload is the body of a *_RESPONSE frame reporting an operation
// failure. Success marshals as the literal false.
type failurePayload struct {
	Success      bool   `json:"success"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (h *Handlers) failure(c *registry.Client, t protocol.MsgType, code int, msg string) {
	h.reply(c, t, failurePayload{ErrorCode: code, ErrorMessage: msg})
}

// storeFailure reports a failed store call on the operation's response
// type: an unreachable database is always 5000, anything else carries the
// operation's own code.
func (h *Handlers) storeFailure(c *registry.Client, t protocol.MsgType, err error, code int, msg string) {
	if errors.Is(err, store.ErrUnavailable) {
		h.failure(c, t, 5000, "服务器数据库未连接")
		return
	}
	h.log.Error("store operation failed", "conn_id", c.ID(), "error", err)
	h.failure(c, t, code, msg)
}

func (h *Handlers) marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("payload marshal failed", "error", err)
		return nil
	}
	return data
}

// reply marshals v and sends it as a frame of the given type.
func (h *Handlers) reply(c *registry.Client, t protocol.MsgType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("response marshal failed", "type", uint16(t), "error", err)
		return
	}
	h.gw.SendToClient(c, t, data)
}

// parse unmarshals a request payload. Malformed JSON leaves the request at
// its zero value so the per-field validation paths answer exactly as they
// would for missing fields.
func (h *Handlers) parse(c *registry.Client, payload []byte, v any) {
	if len(payload) == 0 {
		return
	}
	if err := json.Unmarshal(payload, v); err != nil {
		h.log.Debug("request parse failed", "conn_id", c.ID(), "error", err)
	}
}

func (h *Handlers) handleHeartbeat(c *registry.Client) {
	h.reply(c, protocol.MsgHeartbeatResponse, struct {
		Timestamp int64 `json:"timestamp"`
	}{Timestamp: time.Now().Unix()})
}

func (h *Handlers) handleUserList(c *registry.Client) {
	users := h.gw.OnlineUsers()
	for i := range users {
		if users[i].Nickname == "" {
			users[i].Nickname = users[i].Username
		}
	}
	h.reply(c, protocol.MsgUserListResponse, struct {
		Users []model.OnlineUser `json:"users"`
	}{Users: users})
	h.log.Info("user list served", "conn_id", c.ID(), "online", len(users))
}
