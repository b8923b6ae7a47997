package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/protocol"
	"github.com/webim/im-server/internal/store"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// loginResponse uses pointers so failure responses carry JSON null for the
// identity fields, as clients expect.
type loginResponse struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
	UserID   *string `json:"user_id"`
	Username *string `json:"username"`
}

type registerResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	UserID  *string `json:"user_id"`
}

func (h *Handlers) handleLogin(ctx context.Context, c *registry.Client, payload []byte) {
	var req authRequest
	h.parse(c, payload, &req)

	if req.Username == "" || req.Password == "" {
		h.reply(c, protocol.MsgLoginResponse, loginResponse{
			Message: "用户名或密码不能为空",
		})
		return
	}

	u, err := h.users.VerifyCredentials(ctx, req.Username, req.Password)
	switch {
	case errors.Is(err, store.ErrInvalidCredentials):
		h.log.Warn("login failed", "username", req.Username, "conn_id", c.ID())
		h.reply(c, protocol.MsgLoginResponse, loginResponse{
			Message: "用户名或密码错误",
		})
		return
	case err != nil:
		h.log.Error("login verification failed",
			"username", req.Username, "conn_id", c.ID(), "error", err)
		h.reply(c, protocol.MsgLoginResponse, loginResponse{
			Message: "服务器内部错误，请稍后重试",
		})
		return
	}

	h.authenticate(c, u.UserID, u.Username, u.Nickname)

	userID := strconv.FormatInt(u.UserID, 10)
	h.reply(c, protocol.MsgLoginResponse, loginResponse{
		Success:  true,
		Message:  "登录成功",
		UserID:   &userID,
		Username: &u.Username,
	})
	h.log.Info("user logged in",
		"username", u.Username, "user_id", u.UserID, "conn_id", c.ID())
}

func (h *Handlers) handleRegister(ctx context.Context, c *registry.Client, payload []byte) {
	var req authRequest
	h.parse(c, payload, &req)

	if req.Username == "" || req.Password == "" {
		h.reply(c, protocol.MsgRegisterResponse, registerResponse{
			Message: "用户名或密码不能为空",
		})
		return
	}

	u, err := h.users.Register(ctx, req.Username, req.Password, req.Nickname)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		h.log.Warn("register rejected, username taken", "username", req.Username)
		h.reply(c, protocol.MsgRegisterResponse, registerResponse{
			Message: "用户名已存在",
		})
		return
	case err != nil:
		h.log.Error("register failed",
			"username", req.Username, "conn_id", c.ID(), "error", err)
		h.reply(c, protocol.MsgRegisterResponse, registerResponse{
			Message: "注册失败，请稍后重试",
		})
		return
	}

	// Registration logs the fresh account in immediately.
	h.authenticate(c, u.UserID, u.Username, u.Nickname)

	userID := strconv.FormatInt(u.UserID, 10)
	h.reply(c, protocol.MsgRegisterResponse, registerResponse{
		Success: true,
		Message: "注册成功",
		UserID:  &userID,
	})
	h.log.Info("user registered",
		"username", u.Username, "user_id", u.UserID, "conn_id", c.ID())
}

// authenticate marks the connection online before the response is encoded,
// so success and presence become visible together. A session displaced by
// this login is closed; the newest login wins.
func (h *Handlers) authenticate(c *registry.Client, userID int64, username, nickname string) {
	if displaced := h.gw.MarkAuthenticated(c.ID(), userID, username, nickname); displaced != nil {
		h.log.Info("displacing previous session",
			"user_id", userID, "old_conn_id", displaced.ID(), "new_conn_id", c.ID())
		displaced.Close()
	}
}
