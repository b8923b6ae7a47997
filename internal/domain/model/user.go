// Package model holds the domain types shared between the registry, the
// routing layer, and the business handlers.
package model

import "time"

// OnlineUser is one entry of the online-user listing pushed to clients.
// User IDs travel as strings on the wire.
type OnlineUser struct {
	UserID   int64  `json:"user_id,string"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Online   bool   `json:"online"`
}

// ClientInfo is an immutable snapshot of a connection's registry state.
type ClientInfo struct {
	ConnID      uint64
	SessionID   string
	RemoteAddr  string
	ConnectedAt time.Time

	// Identity fields are zero until the connection authenticates.
	Authenticated bool
	UserID        int64
	Username      string
	Nickname      string
}
