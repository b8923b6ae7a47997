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

// parseUserIDs converts the wire's quoted-decimal id list, dropping
// anything non-numeric.
func parseUserIDs(raw []string) []int64 {
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

type groupCreateRequest struct {
	GroupName     string   `json:"group_name"`
	AvatarURL     string   `json:"avatar_url"`
	MemberUserIDs []string `json:"member_user_ids"`
}

// groupObject is the embedded group description in create and member-list
// responses. Announcement is null when the group has none.
type groupObject struct {
	GroupID      string  `json:"group_id"`
	GroupName    string  `json:"group_name"`
	OwnerID      string  `json:"owner_id"`
	AvatarURL    string  `json:"avatar_url"`
	Announcement *string `json:"announcement"`
	CreatedAt    int64   `json:"created_at"`
}

func announcementOrNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handlers) handleGroupCreate(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupCreateRequest
	h.parse(c, payload, &req)

	if req.GroupName == "" {
		h.failure(c, protocol.MsgGroupCreateResponse, 3001, "群名称不能为空")
		return
	}

	info := c.Info()
	g, err := h.groups.CreateGroup(ctx, req.GroupName, info.UserID, req.AvatarURL,
		parseUserIDs(req.MemberUserIDs))
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupCreateResponse, err, 5001, "创建群失败")
		return
	}

	// A fresh group never has an announcement; the create response carries
	// it as an empty string rather than null.
	empty := ""
	h.reply(c, protocol.MsgGroupCreateResponse, struct {
		Success bool        `json:"success"`
		Group   groupObject `json:"group"`
	}{Success: true, Group: groupObject{
		GroupID:      strconv.FormatInt(g.GroupID, 10),
		GroupName:    g.GroupName,
		OwnerID:      strconv.FormatInt(g.OwnerID, 10),
		AvatarURL:    g.AvatarURL,
		Announcement: &empty,
		CreatedAt:    g.CreatedAt.Unix(),
	}})
	h.log.Info("group created",
		"group_id", g.GroupID, "creator", info.Username)
}

type groupListEntry struct {
	GroupID      string  `json:"group_id"`
	GroupName    string  `json:"group_name"`
	AvatarURL    string  `json:"avatar_url"`
	Announcement *string `json:"announcement"`
	Role         string  `json:"role"`
}

func (h *Handlers) handleGroupList(ctx context.Context, c *registry.Client) {
	info := c.Info()
	entries, err := h.groups.ListGroups(ctx, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupListResponse, err, 5002, "查询群列表失败")
		return
	}

	out := make([]groupListEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, groupListEntry{
			GroupID:      strconv.FormatInt(e.GroupID, 10),
			GroupName:    e.GroupName,
			AvatarURL:    e.AvatarURL,
			Announcement: announcementOrNull(e.Announcement),
			Role:         e.Role,
		})
	}
	h.reply(c, protocol.MsgGroupListResponse, struct {
		Success bool             `json:"success"`
		Groups  []groupListEntry `json:"groups"`
	}{Success: true, Groups: out})
}

type groupIDRequest struct {
	GroupID string `json:"group_id"`
}

// parseGroupID reports (0, false) for a missing or non-numeric group id.
func parseGroupID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type memberListEntry struct {
	UserID          string `json:"user_id"`
	NicknameInGroup string `json:"nickname_in_group"`
	Role            string `json:"role"`
	Online          bool   `json:"online"`
}

func (h *Handlers) handleGroupMemberList(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupIDRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	if !ok {
		h.failure(c, protocol.MsgGroupMemberListResponse, 3002, "group_id 不能为空")
		return
	}

	info := c.Info()
	isMember, err := h.groups.IsMember(ctx, gid, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupMemberListResponse, err, 5003, "查询群成员列表失败")
		return
	}
	if !isMember {
		h.failure(c, protocol.MsgGroupMemberListResponse, 3003, "您不是该群成员")
		return
	}

	members, err := h.groups.ListMembers(ctx, gid)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupMemberListResponse, err, 5003, "查询群成员列表失败")
		return
	}

	out := make([]memberListEntry, 0, len(members))
	for _, m := range members {
		nickname := m.NicknameInGroup
		if nickname == "" {
			nickname = m.Nickname
		}
		out = append(out, memberListEntry{
			UserID:          strconv.FormatInt(m.UserID, 10),
			NicknameInGroup: nickname,
			Role:            m.Role,
			Online:          h.gw.IsOnline(m.UserID),
		})
	}

	obj := groupObject{
		GroupID:   req.GroupID,
		CreatedAt: time.Now().Unix(),
	}
	if g, err := h.groups.GetGroup(ctx, gid); err == nil {
		obj.GroupID = strconv.FormatInt(g.GroupID, 10)
		obj.GroupName = g.GroupName
		obj.OwnerID = strconv.FormatInt(g.OwnerID, 10)
		obj.AvatarURL = g.AvatarURL
		obj.Announcement = announcementOrNull(g.Announcement)
		if !g.CreatedAt.IsZero() {
			obj.CreatedAt = g.CreatedAt.Unix()
		}
	}

	h.reply(c, protocol.MsgGroupMemberListResponse, struct {
		Success bool              `json:"success"`
		GroupID string            `json:"group_id"`
		Members []memberListEntry `json:"members"`
		Group   groupObject       `json:"group"`
	}{Success: true, GroupID: req.GroupID, Members: out, Group: obj})
}

type groupMembersRequest struct {
	GroupID       string   `json:"group_id"`
	MemberUserIDs []string `json:"member_user_ids"`
}

func (h *Handlers) handleGroupInvite(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupMembersRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	memberIDs := parseUserIDs(req.MemberUserIDs)
	if !ok || len(memberIDs) == 0 {
		h.failure(c, protocol.MsgGroupInviteResponse, 3004, "group_id 和 member_user_ids 不能为空")
		return
	}

	info := c.Info()
	role, err := h.groups.MemberRole(ctx, gid, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupInviteResponse, err, 5001, "邀请成员失败")
		return
	}
	if role == "" {
		h.failure(c, protocol.MsgGroupInviteResponse, 3005, "您不是该群成员")
		return
	}

	// The inviter is already in the group; drop them from the list.
	targets := memberIDs[:0]
	for _, id := range memberIDs {
		if id != info.UserID {
			targets = append(targets, id)
		}
	}

	added, err := h.groups.AddMembers(ctx, gid, targets)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupInviteResponse, err, 5001, "邀请成员失败")
		return
	}

	notify := h.marshal(struct {
		GroupID         string `json:"group_id"`
		InviterID       string `json:"inviter_id"`
		InviterUsername string `json:"inviter_username"`
	}{
		GroupID:         req.GroupID,
		InviterID:       strconv.FormatInt(info.UserID, 10),
		InviterUsername: info.Username,
	})
	for _, uid := range added {
		if h.gw.IsOnline(uid) {
			h.gw.SendToUser(uid, protocol.MsgGroupInviteNotify, notify)
		}
	}

	h.reply(c, protocol.MsgGroupInviteResponse, struct {
		Success      bool `json:"success"`
		InvitedCount int  `json:"invited_count"`
	}{Success: true, InvitedCount: len(added)})
	h.log.Info("group invite",
		"group_id", req.GroupID, "inviter", info.Username, "invited", len(added))
}

func (h *Handlers) handleGroupKick(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupMembersRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	memberIDs := parseUserIDs(req.MemberUserIDs)
	if !ok || len(memberIDs) == 0 {
		h.failure(c, protocol.MsgGroupKickResponse, 3006, "group_id 和 member_user_ids 不能为空")
		return
	}

	info := c.Info()
	kickerRole, err := h.groups.MemberRole(ctx, gid, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupKickResponse, err, 5004, "踢出成员失败")
		return
	}
	if kickerRole != store.RoleOwner && kickerRole != store.RoleAdmin {
		h.failure(c, protocol.MsgGroupKickResponse, 3007, "权限不足，只有群主或管理员可以踢人")
		return
	}

	notify := h.marshal(struct {
		GroupID  string `json:"group_id"`
		KickerID string `json:"kicker_id"`
	}{GroupID: req.GroupID, KickerID: strconv.FormatInt(info.UserID, 10)})

	kicked := 0
	for _, uid := range memberIDs {
		if uid == info.UserID {
			continue
		}
		role, err := h.groups.MemberRole(ctx, gid, uid)
		if err != nil || role == "" {
			continue
		}
		// Owners are untouchable; admins fall only to the owner.
		if role == store.RoleOwner {
			continue
		}
		if role == store.RoleAdmin && kickerRole != store.RoleOwner {
			continue
		}
		if err := h.groups.RemoveMember(ctx, gid, uid); err != nil {
			h.log.Error("kick failed",
				"group_id", gid, "user_id", uid, "error", err)
			continue
		}
		kicked++
		if h.gw.IsOnline(uid) {
			h.gw.SendToUser(uid, protocol.MsgGroupKickNotify, notify)
		}
	}

	h.reply(c, protocol.MsgGroupKickResponse, struct {
		Success     bool `json:"success"`
		KickedCount int  `json:"kicked_count"`
	}{Success: true, KickedCount: kicked})
	h.log.Info("group kick",
		"group_id", req.GroupID, "kicker", info.Username, "kicked", kicked)
}

func (h *Handlers) handleGroupQuit(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupIDRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	if !ok {
		h.failure(c, protocol.MsgGroupQuitResponse, 3008, "group_id 不能为空")
		return
	}

	info := c.Info()
	role, err := h.groups.MemberRole(ctx, gid, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupQuitResponse, err, 5004, "退群失败")
		return
	}
	if role == "" {
		h.failure(c, protocol.MsgGroupQuitResponse, 3009, "您不是该群成员")
		return
	}
	if role == store.RoleOwner {
		h.failure(c, protocol.MsgGroupQuitResponse, 3010, "群主不能退群，请先解散群")
		return
	}

	if err := h.groups.RemoveMember(ctx, gid, info.UserID); err != nil {
		h.storeFailure(c, protocol.MsgGroupQuitResponse, err, 5004, "退群失败")
		return
	}

	// Notify the members that remain.
	if remaining, err := h.groups.MemberIDs(ctx, gid); err == nil {
		h.gw.SendToUsers(remaining, protocol.MsgGroupQuitNotify, h.marshal(struct {
			GroupID      string `json:"group_id"`
			QuitUserID   string `json:"quit_user_id"`
			QuitUsername string `json:"quit_username"`
		}{
			GroupID:      req.GroupID,
			QuitUserID:   strconv.FormatInt(info.UserID, 10),
			QuitUsername: info.Username,
		}))
	}

	h.reply(c, protocol.MsgGroupQuitResponse, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "已退出群聊"})
	h.log.Info("group quit", "group_id", req.GroupID, "user", info.Username)
}

func (h *Handlers) handleGroupDismiss(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupIDRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	if !ok {
		h.failure(c, protocol.MsgGroupDismissResponse, 3011, "group_id 不能为空")
		return
	}

	info := c.Info()
	g, err := h.groups.GetGroup(ctx, gid)
	if errors.Is(err, store.ErrNotFound) {
		h.failure(c, protocol.MsgGroupDismissResponse, 3012, "群不存在")
		return
	}
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupDismissResponse, err, 5005, "查询群信息失败")
		return
	}
	if g.OwnerID != info.UserID {
		h.failure(c, protocol.MsgGroupDismissResponse, 3013, "只有群主可以解散群")
		return
	}

	// Snapshot the membership before it is deleted, for notifications.
	memberIDs, err := h.groups.MemberIDs(ctx, gid)
	if err != nil {
		memberIDs = nil
	}

	if err := h.groups.DismissGroup(ctx, gid); err != nil {
		h.storeFailure(c, protocol.MsgGroupDismissResponse, err, 5006, "解散群失败")
		return
	}

	notify := h.marshal(struct {
		GroupID string `json:"group_id"`
	}{GroupID: req.GroupID})
	for _, uid := range memberIDs {
		if uid == info.UserID {
			continue
		}
		if h.gw.IsOnline(uid) {
			h.gw.SendToUser(uid, protocol.MsgGroupDismissNotify, notify)
		}
	}

	h.reply(c, protocol.MsgGroupDismissResponse, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "群已解散"})
	h.log.Info("group dismissed", "group_id", req.GroupID, "owner", info.Username)
}

type groupUpdateRequest struct {
	GroupID      string `json:"group_id"`
	GroupName    string `json:"group_name"`
	Announcement string `json:"announcement"`
}

func (h *Handlers) handleGroupUpdateInfo(ctx context.Context, c *registry.Client, payload []byte) {
	var req groupUpdateRequest
	h.parse(c, payload, &req)

	gid, ok := parseGroupID(req.GroupID)
	if !ok {
		h.failure(c, protocol.MsgGroupUpdateInfoResponse, 3014, "group_id 不能为空")
		return
	}

	info := c.Info()
	role, err := h.groups.MemberRole(ctx, gid, info.UserID)
	if err != nil {
		h.storeFailure(c, protocol.MsgGroupUpdateInfoResponse, err, 5007, "更新群信息失败")
		return
	}
	if role != store.RoleOwner && role != store.RoleAdmin {
		h.failure(c, protocol.MsgGroupUpdateInfoResponse, 3015, "权限不足，只有群主或管理员可以更新群信息")
		return
	}
	if req.GroupName == "" && req.Announcement == "" {
		h.failure(c, protocol.MsgGroupUpdateInfoResponse, 3016, "至少需要更新一个字段")
		return
	}

	if err := h.groups.UpdateGroupInfo(ctx, gid, req.GroupName, req.Announcement); err != nil {
		h.storeFailure(c, protocol.MsgGroupUpdateInfoResponse, err, 5007, "更新群信息失败")
		return
	}

	if memberIDs, err := h.groups.MemberIDs(ctx, gid); err == nil {
		notify := h.marshal(struct {
			GroupID      string `json:"group_id"`
			GroupName    string `json:"group_name"`
			Announcement string `json:"announcement"`
		}{GroupID: req.GroupID, GroupName: req.GroupName, Announcement: req.Announcement})
		for _, uid := range memberIDs {
			if uid == info.UserID {
				continue
			}
			if h.gw.IsOnline(uid) {
				h.gw.SendToUser(uid, protocol.MsgGroupUpdateInfoNotify, notify)
			}
		}
	}

	h.reply(c, protocol.MsgGroupUpdateInfoResponse, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "群信息已更新"})
	h.log.Info("group info updated", "group_id", req.GroupID, "updater", info.Username)
}
