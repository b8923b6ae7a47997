package store

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// VerifyCredentials checks username/password against the users table.
// Returns ErrInvalidCredentials on an unknown username or a hash mismatch,
// indistinguishably.
func (s *Store) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	var u User
	err := s.run(func() error {
		res := s.db.WithContext(ctx).Where("username = ?", username).First(&u)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		if res.Error != nil {
			return res.Error
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Register creates an account with a bcrypt-hashed password. The unique
// index on username turns a concurrent duplicate insert into
// ErrUsernameTaken for the loser.
func (s *Store) Register(ctx context.Context, username, password, nickname string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := User{
		Username:     username,
		PasswordHash: string(hash),
		Nickname:     nickname,
	}
	err = s.run(func() error {
		if res := s.db.WithContext(ctx).Create(&u); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrUsernameTaken
			}
			return res.Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int64
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&User{}).
			Where("username = ?", username).Count(&n).Error
	})
	return n > 0, err
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var n int64
	err := s.run(func() error {
		return s.db.WithContext(ctx).Model(&User{}).
			Where("user_id = ?", userID).Count(&n).Error
	})
	return n > 0, err
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.run(func() error {
		res := s.db.WithContext(ctx).Where("username = ?", username).First(&u)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return res.Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
