// Package handler implements the business layer: it classifies decoded
// packets, enforces the authentication gate, and runs the login, messaging,
// friend, and group operations against the store and the routing gateway.
package handler

import (
	"github.com/webim/im-server/internal/domain/model"
	"github.com/webim/im-server/internal/domain/registry"
	"github.com/webim/im-server/internal/protocol"
)

// Gateway is the slice of server capability handlers are allowed to touch:
// routing plus registry lookups. Handlers never hold references to it past a
// single invocation.
type Gateway interface {
	SendToClient(c *registry.Client, t protocol.MsgType, payload []byte) bool
	SendToUser(userID int64, t protocol.MsgType, payload []byte) bool
	SendToUsers(userIDs []int64, t protocol.MsgType, payload []byte) int
	Broadcast(except uint64, t protocol.MsgType, payload []byte) int

	IsOnline(userID int64) bool
	OnlineUsers() []model.OnlineUser
	Info(connID uint64) (model.ClientInfo, bool)
	// MarkAuthenticated binds the identity to the connection and returns the
	// displaced session when the user was already logged in elsewhere.
	MarkAuthenticated(connID uint64, userID int64, username, nickname string) *registry.Client
}
