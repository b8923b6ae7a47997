package store

import "time"

// User is a registered account. Passwords are stored as bcrypt hashes; the
// wire contract only ever sees plaintext on the login/register request.
type User struct {
	UserID       int64  `gorm:"column:user_id;primaryKey;autoIncrement"`
	Username     string `gorm:"column:username;size:64;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;size:128;not null"`
	Nickname     string `gorm:"column:nickname;size:64"`
	CreatedAt    time.Time
}

func (User) TableName() string { return "users" }

// Friend is one direction of a friendship edge. Accepting an apply writes
// both directions.
type Friend struct {
	UserID       int64  `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	FriendUserID int64  `gorm:"column:friend_user_id;primaryKey;autoIncrement:false"`
	Remark       string `gorm:"column:remark;size:64"`
	GroupName    string `gorm:"column:group_name;size:64"`
	IsBlocked    bool   `gorm:"column:is_blocked;not null;default:false"`
	CreatedAt    time.Time
}

func (Friend) TableName() string { return "friends" }

// Friend apply status values.
const (
	ApplyPending  = 0
	ApplyAccepted = 1
	ApplyRejected = 2
)

type FriendApply struct {
	ApplyID    int64  `gorm:"column:apply_id;primaryKey;autoIncrement"`
	FromUserID int64  `gorm:"column:from_user_id;index;not null"`
	ToUserID   int64  `gorm:"column:to_user_id;index;not null"`
	Greeting   string `gorm:"column:greeting;size:255"`
	Status     int    `gorm:"column:status;not null;default:0"`
	CreatedAt  time.Time
	HandledAt  *time.Time `gorm:"column:handled_at"`
}

func (FriendApply) TableName() string { return "friend_applies" }

// Group member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Group struct {
	GroupID      int64  `gorm:"column:group_id;primaryKey;autoIncrement"`
	GroupName    string `gorm:"column:group_name;size:64;not null"`
	OwnerID      int64  `gorm:"column:owner_id;not null"`
	AvatarURL    string `gorm:"column:avatar_url;size:255"`
	Announcement string `gorm:"column:announcement;size:255"`
	CreatedAt    time.Time
}

func (Group) TableName() string { return "groups" }

type GroupMember struct {
	GroupID         int64  `gorm:"column:group_id;primaryKey;autoIncrement:false"`
	UserID          int64  `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Role            string `gorm:"column:role;size:16;not null;default:member"`
	NicknameInGroup string `gorm:"column:nickname_in_group;size:64"`
	CreatedAt       time.Time
}

func (GroupMember) TableName() string { return "group_members" }

// FriendEntry is a friends row joined with the friend's account.
type FriendEntry struct {
	FriendUserID int64
	Username     string
	Nickname     string
	Remark       string
	GroupName    string
	IsBlocked    bool
}

// GroupEntry is a groups row joined with the caller's membership role.
type GroupEntry struct {
	GroupID      int64
	GroupName    string
	AvatarURL    string
	Announcement string
	Role         string
}

// MemberEntry is a group_members row joined with the member's account.
type MemberEntry struct {
	UserID          int64
	NicknameInGroup string
	Nickname        string
	Role            string
}
