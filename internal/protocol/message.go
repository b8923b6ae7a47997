// Package protocol implements the binary wire format shared with the IM
// clients: a fixed 10-byte big-endian header (magic, type, payload length)
// followed by a JSON payload.
package protocol

// Magic marks the start of every frame ("IMIM").
const Magic uint32 = 0x494D494D

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 10

// MsgType identifies the kind of payload a frame carries.
type MsgType uint16

const (
	// Auth
	MsgLoginRequest     MsgType = 0x0001
	MsgLoginResponse    MsgType = 0x0002
	MsgRegisterRequest  MsgType = 0x0003
	MsgRegisterResponse MsgType = 0x0004

	// Messaging
	MsgSendMessage    MsgType = 0x0005
	MsgReceiveMessage MsgType = 0x0006

	// Control
	MsgHeartbeat         MsgType = 0x0007
	MsgHeartbeatResponse MsgType = 0x0008
	MsgUserListRequest   MsgType = 0x0009
	MsgUserListResponse  MsgType = 0x000A
	MsgLogout            MsgType = 0x000B
	MsgError             MsgType = 0x000C

	// Friends
	MsgFriendApplyRequest   MsgType = 0x0100
	MsgFriendApplyResponse  MsgType = 0x0101
	MsgFriendApplyNotify    MsgType = 0x0102
	MsgFriendHandleRequest  MsgType = 0x0103
	MsgFriendHandleResponse MsgType = 0x0104
	MsgFriendHandleNotify   MsgType = 0x0105
	MsgFriendListRequest    MsgType = 0x0106
	MsgFriendListResponse   MsgType = 0x0107
	MsgFriendDeleteRequest  MsgType = 0x0108
	MsgFriendDeleteResponse MsgType = 0x0109
	MsgFriendBlockRequest   MsgType = 0x010A
	MsgFriendBlockResponse  MsgType = 0x010B

	// Groups
	MsgGroupCreateRequest      MsgType = 0x0200
	MsgGroupCreateResponse     MsgType = 0x0201
	MsgGroupListRequest        MsgType = 0x0202
	MsgGroupListResponse       MsgType = 0x0203
	MsgGroupMemberListRequest  MsgType = 0x0204
	MsgGroupMemberListResponse MsgType = 0x0205
	MsgGroupInviteRequest      MsgType = 0x0206
	MsgGroupInviteResponse     MsgType = 0x0207
	MsgGroupInviteNotify       MsgType = 0x0208
	MsgGroupKickRequest        MsgType = 0x0209
	MsgGroupKickResponse       MsgType = 0x020A
	MsgGroupKickNotify         MsgType = 0x020B
	MsgGroupQuitRequest        MsgType = 0x020C
	MsgGroupQuitResponse       MsgType = 0x020D
	MsgGroupQuitNotify         MsgType = 0x020E
	MsgGroupDismissRequest     MsgType = 0x020F
	MsgGroupDismissResponse    MsgType = 0x0210
	MsgGroupDismissNotify      MsgType = 0x0211
	MsgGroupUpdateInfoRequest  MsgType = 0x0212
	MsgGroupUpdateInfoResponse MsgType = 0x0213
	MsgGroupUpdateInfoNotify   MsgType = 0x0214
)

// IsHeartbeat reports whether the type belongs to heartbeat traffic,
// which is logged at a lower level than business frames.
func (t MsgType) IsHeartbeat() bool {
	return t == MsgHeartbeat || t == MsgHeartbeatResponse
}

// Packet is one decoded frame. The magic and length fields have already been
// validated by the decoder, so only the type and payload remain.
type Packet struct {
	Type    MsgType
	Payload []byte
}
