package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// memberCache keeps recently resolved group member lists so hot groups do
// not hit the database on every fan-out. Entries expire on TTL and are
// invalidated on any membership mutation. singleflight collapses concurrent
// misses for the same group into one query.
type memberCache struct {
	lru *expirable.LRU[int64, []int64]
	sf  singleflight.Group
}

func newMemberCache(ttl time.Duration) *memberCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &memberCache{
		lru: expirable.NewLRU[int64, []int64](1024, nil, ttl),
	}
}

func (mc *memberCache) get(groupID int64, load func() ([]int64, error)) ([]int64, error) {
	if ids, ok := mc.lru.Get(groupID); ok {
		return ids, nil
	}
	v, err, _ := mc.sf.Do(strconv.FormatInt(groupID, 10), func() (any, error) {
		ids, err := load()
		if err != nil {
			return nil, err
		}
		mc.lru.Add(groupID, ids)
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}

func (mc *memberCache) invalidate(groupID int64) {
	mc.lru.Remove(groupID)
}

// CreateGroup inserts the group, adds the owner, then adds every listed
// member that exists. Unknown ids and the owner itself are skipped, which
// mirrors the invite semantics.
func (s *Store) CreateGroup(ctx context.Context, name string, ownerID int64, avatarURL string, memberIDs []int64) (*Group, error) {
	g := Group{
		GroupName: name,
		OwnerID:   ownerID,
		AvatarURL: avatarURL,
	}
	err := s.run(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&g).Error; err != nil {
				return err
			}
			if err := tx.Create(&GroupMember{
				GroupID: g.GroupID,
				UserID:  ownerID,
				Role:    RoleOwner,
			}).Error; err != nil {
				return err
			}
			for _, uid := range memberIDs {
				if uid == ownerID {
					continue
				}
				var n int64
				if err := tx.Model(&User{}).Where("user_id = ?", uid).Count(&n).Error; err != nil {
					return err
				}
				if n == 0 {
					continue
				}
				if err := tx.Create(&GroupMember{
					GroupID: g.GroupID,
					UserID:  uid,
					Role:    RoleMember,
				}).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	var g Group
	err := s.run(func() error {
		res := s.db.WithContext(ctx).Where("group_id = ?", groupID).First(&g)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return res.Error
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns every group the user belongs to, with their role.
func (s *Store) ListGroups(ctx context.Context, userID int64) ([]GroupEntry, error) {
	var entries []GroupEntry
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&Group{}).
			Select("groups.group_id, groups.group_name, groups.avatar_url, groups.announcement, group_members.role").
			Joins("JOIN group_members ON group_members.group_id = groups.group_id").
			Where("group_members.user_id = ?", userID).
			Scan(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MemberIDs resolves the group's member set, served from the cache when
// fresh. This is the fan-out path.
func (s *Store) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return s.members.get(groupID, func() ([]int64, error) {
		var ids []int64
		err := s.run(func() error {
			return s.db.WithContext(ctx).Model(&GroupMember{}).
				Where("group_id = ?", groupID).
				Pluck("user_id", &ids).Error
		})
		if err != nil {
			return nil, err
		}
		return ids, nil
	})
}

func (s *Store) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var n int64
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&GroupMember{}).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			Count(&n).Error
	})
	return n > 0, err
}

// MemberRole returns the user's role, or "" when they are not a member.
func (s *Store) MemberRole(ctx context.Context, groupID, userID int64) (string, error) {
	var gm GroupMember
	err := s.run(func() error {
		res := s.db.WithContext(ctx).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			First(&gm)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		return res.Error
	})
	if err != nil {
		return "", err
	}
	return gm.Role, nil
}

// ListMembers returns membership rows joined with each member's account.
func (s *Store) ListMembers(ctx context.Context, groupID int64) ([]MemberEntry, error) {
	var entries []MemberEntry
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&GroupMember{}).
			Select("group_members.user_id, group_members.nickname_in_group, group_members.role, users.nickname").
			Joins("JOIN users ON users.user_id = group_members.user_id").
			Where("group_members.group_id = ?", groupID).
			Scan(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AddMembers inserts the listed users as plain members, skipping ids that
// are already in the group or do not exist. Returns the ids actually added.
func (s *Store) AddMembers(ctx context.Context, groupID int64, memberIDs []int64) ([]int64, error) {
	var added []int64
	err := s.run(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, uid := range memberIDs {
				var n int64
				if err := tx.Model(&GroupMember{}).
					Where("group_id = ? AND user_id = ?", groupID, uid).
					Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					continue
				}
				if err := tx.Model(&User{}).Where("user_id = ?", uid).Count(&n).Error; err != nil {
					return err
				}
				if n == 0 {
					continue
				}
				if err := tx.Create(&GroupMember{
					GroupID: groupID,
					UserID:  uid,
					Role:    RoleMember,
				}).Error; err != nil {
					return err
				}
				added = append(added, uid)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.members.invalidate(groupID)
	}
	return added, nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID int64) error {
	err := s.run(func() error {
		return s.db.WithContext(ctx).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			Delete(&GroupMember{}).Error
	})
	if err == nil {
		s.members.invalidate(groupID)
	}
	return err
}

// DismissGroup deletes the group and its whole membership.
func (s *Store) DismissGroup(ctx context.Context, groupID int64) error {
	err := s.run(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("group_id = ?", groupID).Delete(&GroupMember{}).Error; err != nil {
				return err
			}
			return tx.Where("group_id = ?", groupID).Delete(&Group{}).Error
		})
	})
	if err == nil {
		s.members.invalidate(groupID)
	}
	return err
}

// UpdateGroupInfo updates whichever of name and announcement is non-empty.
func (s *Store) UpdateGroupInfo(ctx context.Context, groupID int64, name, announcement string) error {
	updates := map[string]any{}
	if name != "" {
		updates["group_name"] = name
	}
	if announcement != "" {
		updates["announcement"] = announcement
	}
	if len(updates) == 0 {
		return nil
	}
	return s.run(func() error {
		return s.db.WithContext(ctx).Model(&Group{}).
			Where("group_id = ?", groupID).
			Updates(updates).Error
	})
}
