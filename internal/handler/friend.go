package handler

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/protocol"
	"github.com/webim/im-server/internal/store"
)

// flexID is a numeric id that clients send either quoted ("7") or bare (7).
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if string(b) == "null" {
		return nil
	}
	*f = flexID(b)
	return nil
}

// Int64 parses the id; ok is false for empty or non-numeric values.
func (f flexID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type friendApplyRequest struct {
	TargetUsername string `json:"target_username"`
	Greeting       string `json:"greeting"`
}

type friendUserRef struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type friendApplyNotify struct {
	ApplyID   string        `json:"apply_id"`
	FromUser  friendUserRef `json:"from_user"`
	Greeting  string        `json:"greeting"`
	CreatedAt int64         `json:"created_at"`
}

func (h *Handlers) handleFriendApply(ctx context.Context, c *registry.Client, payload []byte) {
	var req friendApplyRequest
	h.parse(c, payload, &req)

	if req.TargetUsername == "" {
		h.failure(c, protocol.MsgFriendApplyResponse, 2001, "target_username 不能为空")
		return
	}

	info := c.Info()
	target, err := h.users.FindByUsername(ctx, req.TargetUsername)
	if errors.Is(err, store.ErrNotFound) {
		h.failure(c, protocol.MsgFriendApplyResponse, 2001, "目标用户名不存在")
		return
	}
	if err != nil {
		h.storeFailure(c, protocol.MsgFriendApplyResponse, err, 5001, "查询目标用户失败")
		return
	}

	if target.UserID == info.UserID {
		h.failure(c, protocol.MsgFriendApplyResponse, 2002, "不能添加自己为好友")
		return
	}

	already, err := h.friends.AreFriends(ctx, info.UserID, target.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgFriendApplyResponse, err, 5001, "查询目标用户失败")
		return
	}
	if already {
		h.failure(c, protocol.MsgFriendApplyResponse, 2003, "已经是好友")
		return
	}

	applyID, err := h.friends.CreateApply(ctx, info.UserID, target.UserID, req.Greeting)
	if err != nil {
		h.storeFailure(c, protocol.MsgFriendApplyResponse, err, 5002, "发送好友申请失败")
		return
	}

	applyIDStr := strconv.FormatInt(applyID, 10)
	h.reply(c, protocol.MsgFriendApplyResponse, struct {
		Success bool   `json:"success"`
		ApplyID string `json:"apply_id"`
		Message string `json:"message"`
	}{Success: true, ApplyID: applyIDStr, Message: "好友申请已发送"})

	if h.gw.IsOnline(target.UserID) {
		h.gw.SendToUser(target.UserID, protocol.MsgFriendApplyNotify, h.marshal(friendApplyNotify{
			ApplyID: applyIDStr,
			FromUser: friendUserRef{
				UserID:   strconv.FormatInt(info.UserID, 10),
				Username: info.Username,
			},
			Greeting:  req.Greeting,
			CreatedAt: time.Now().Unix(),
		}))
	}
	h.log.Info("friend apply created",
		"apply_id", applyID, "from", info.Username, "to", req.TargetUsername)
}

type friendActionRequest struct {
	ApplyID flexID `json:"apply_id"`
	Action  string `json:"action"`
}

func (h *Handlers) handleFriendAction(ctx context.Context, c *registry.Client, payload []byte) {
	var req friendActionRequest
	h.parse(c, payload, &req)

	applyID, ok := req.ApplyID.Int64()
	if !ok || req.Action == "" {
		h.failure(c, protocol.MsgFriendHandleResponse, 2003, "参数不完整")
		return
	}
	accept := req.Action == "accept" || req.Action == "ACCEPT"

	info := c.Info()
	apply, err := h.friends.ApplyForHandler(ctx, applyID, info.UserID)
	if errors.Is(err, store.ErrNotFound) {
		h.failure(c, protocol.MsgFriendHandleResponse, 2004, "好友申请不存在或无权限处理")
		return
	}
	if err != nil {
		h.storeFailure(c, protocol.MsgFriendHandleResponse, err, 5003, "查询好友申请失败")
		return
	}
	if apply.Status != store.ApplyPending {
		h.failure(c, protocol.MsgFriendHandleResponse, 2005, "该申请已处理")
		return
	}

	if err := h.friends.ResolveApply(ctx, applyID, accept); err != nil {
		h.storeFailure(c, protocol.MsgFriendHandleResponse, err, 5004, "更新好友申请失败")
		return
	}

	action := "reject"
	if accept {
		action = "accept"
		if err := h.friends.AddFriendship(ctx, apply.FromUserID, apply.ToUserID); err != nil {
			// The apply is already stamped accepted; log and keep going.
			h.log.Error("friendship insert failed",
				"apply_id", applyID, "error", err)
		}
	}

	h.reply(c, protocol.MsgFriendHandleResponse, struct {
		Success bool   `json:"success"`
		Action  string `json:"action"`
	}{Success: true, Action: action})

	h.gw.SendToUser(apply.FromUserID, protocol.MsgFriendHandleNotify, h.marshal(struct {
		ApplyID string `json:"apply_id"`
		Result  string `json:"result"`
	}{ApplyID: strconv.FormatInt(applyID, 10), Result: action}))

	h.log.Info("friend apply handled",
		"apply_id", applyID, "action", action, "handler", info.Username)
}

type friendListEntry struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	Remark    string `json:"remark"`
	GroupName string `json:"group_name"`
	IsBlocked bool   `json:"is_blocked"`
	Online    bool   `json:"online"`
}

func (h *Handlers) handleFriendList(ctx context.Context, c *registry.Client) {
	info := c.Info()
	entries, err := h.friends.ListFriends(ctx, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgFriendListResponse, err, 5005, "查询好友列表失败")
		return
	}

	out := make([]friendListEntry, 0, len(entries))
	for _, e := range entries {
		nickname := e.Nickname
		if nickname == "" {
			nickname = e.Username
		}
		out = append(out, friendListEntry{
			UserID:    strconv.FormatInt(e.FriendUserID, 10),
			Username:  e.Username,
			Nickname:  nickname,
			Remark:    e.Remark,
			GroupName: e.GroupName,
			IsBlocked: e.IsBlocked,
			Online:    h.gw.IsOnline(e.FriendUserID),
		})
	}
	h.reply(c, protocol.MsgFriendListResponse, struct {
		Success bool              `json:"success"`
		Friends []friendListEntry `json:"friends"`
	}{Success: true, Friends: out})
}

func (h *Handlers) handleFriendDelete(ctx context.Context, c *registry.Client, payload []byte) {
	var req struct {
		FriendUserID flexID `json:"friend_user_id"`
	}
	h.parse(c, payload, &req)

	friendID, ok := req.FriendUserID.Int64()
	if !ok {
		h.failure(c, protocol.MsgFriendDeleteResponse, 2006, "friend_user_id 不能为空")
		return
	}

	info := c.Info()
	if err := h.friends.DeleteFriendship(ctx, info.UserID, friendID); err != nil {
		h.storeFailure(c, protocol.MsgFriendDeleteResponse, err, 5006, "删除好友失败")
		return
	}
	h.reply(c, protocol.MsgFriendDeleteResponse, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "已删除好友"})
	h.log.Info("friendship deleted", "user_id", info.UserID, "friend_user_id", friendID)
}

func (h *Handlers) handleFriendBlock(ctx context.Context, c *registry.Client, payload []byte) {
	var req struct {
		TargetUserID flexID `json:"target_user_id"`
		Block        bool   `json:"block"`
	}
	h.parse(c, payload, &req)

	targetID, ok := req.TargetUserID.Int64()
	if !ok {
		h.failure(c, protocol.MsgFriendBlockResponse, 2007, "target_user_id 不能为空")
		return
	}

	info := c.Info()
	if err := h.friends.SetBlocked(ctx, info.UserID, targetID, req.Block); err != nil {
		h.storeFailure(c, protocol.MsgFriendBlockResponse, err, 5007, "更新拉黑状态失败")
		return
	}
	h.reply(c, protocol.MsgFriendBlockResponse, struct {
		Success bool `json:"success"`
		Block   bool `json:"block"`
	}{Success: true, Block: req.Block})
}
