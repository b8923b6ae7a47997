package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) AreFriends(ctx context.Context, userID, friendUserID int64) (bool, error) {
	var n int64
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&Friend{}).
			Where("user_id = ? AND friend_user_id = ?", userID, friendUserID).
			Count(&n).Error
	})
	return n > 0, err
}

// CreateApply inserts a pending friend application and returns its id.
func (s *Store) CreateApply(ctx context.Context, fromUserID, toUserID int64, greeting string) (int64, error) {
	apply := FriendApply{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Greeting:   greeting,
		Status:     ApplyPending,
	}
	err := s.run(func() error {
		return s.db.WithContext(ctx).Create(&apply).Error
	})
	if err != nil {
		return 0, err
	}
	return apply.ApplyID, nil
}

// ApplyForHandler loads an application addressed to the given user.
// ErrNotFound covers both a missing apply and one addressed to someone
// else, so callers cannot probe foreign applications.
func (s *Store) ApplyForHandler(ctx context.Context, applyID, toUserID int64) (*FriendApply, error) {
	var apply FriendApply
	err := s.run(func() error {
		res := s.db.WithContext(ctx).
			Where("apply_id = ? AND to_user_id = ?", applyID, toUserID).
			First(&apply)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return res.Error
	})
	if err != nil {
		return nil, err
	}
	return &apply, nil
}

// ResolveApply stamps the application accepted or rejected.
func (s *Store) ResolveApply(ctx context.Context, applyID int64, accepted bool) error {
	status := ApplyRejected
	if accepted {
		status = ApplyAccepted
	}
	now := time.Now()
	return s.run(func() error {
		return s.db.WithContext(ctx).Model(&FriendApply{}).
			Where("apply_id = ?", applyID).
			Updates(map[string]any{"status": status, "handled_at": &now}).Error
	})
}

// AddFriendship writes both directions of the edge. Re-adding an existing
// friendship is a no-op.
func (s *Store) AddFriendship(ctx context.Context, a, b int64) error {
	rows := []Friend{
		{UserID: a, FriendUserID: b},
		{UserID: b, FriendUserID: a},
	}
	return s.run(func() error {
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows).Error
	})
}

// ListFriends returns the user's friends joined with their account rows.
func (s *Store) ListFriends(ctx context.Context, userID int64) ([]FriendEntry, error) {
	var entries []FriendEntry
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&Friend{}).
			Select("friends.friend_user_id, friends.remark, friends.group_name, friends.is_blocked, users.username, users.nickname").
			Joins("JOIN users ON users.user_id = friends.friend_user_id").
			Where("friends.user_id = ?", userID).
			Scan(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteFriendship removes both directions of the edge.
func (s *Store) DeleteFriendship(ctx context.Context, a, b int64) error {
	return s.run(func() error {
		return s.db.WithContext(ctx).
			Where("(user_id = ? AND friend_user_id = ?) OR (user_id = ? AND friend_user_id = ?)",
				a, b, b, a).
			Delete(&Friend{}).Error
	})
}

// SetBlocked flips the one-directional block flag on the caller's edge.
func (s *Store) SetBlocked(ctx context.Context, userID, targetUserID int64, blocked bool) error {
	return s.run(func() error {
		return s.db.WithContext(ctx).Model(&Friend{}).
			Where("user_id = ? AND friend_user_id = ?", userID, targetUserID).
			Update("is_blocked", blocked).Error
	})
}
