// Package store is the persistence facade over MySQL. Handlers consume it
// through the UserStore, FriendStore, and GroupStore interfaces; every call
// passes through a circuit breaker so a dead database degrades into fast
// typed failures instead of piling up blocked workers.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/webim/im-server/config"
	"github.com/webim/im-server/internal/metrics"
)

// Sentinel errors handlers translate into wire error codes.
var (
	// ErrUnavailable means the database is unreachable or the breaker is
	// open. Maps to wire code 5000.
	ErrUnavailable = errors.New("store: database unavailable")

	ErrNotFound           = errors.New("store: not found")
	ErrInvalidCredentials = errors.New("store: invalid credentials")
	ErrUsernameTaken      = errors.New("store: username already taken")
)

type UserStore interface {
	VerifyCredentials(ctx context.Context, username, password string) (*User, error)
	Register(ctx context.Context, username, password, nickname string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

type FriendStore interface {
	AreFriends(ctx context.Context, userID, friendUserID int64) (bool, error)
	CreateApply(ctx context.Context, fromUserID, toUserID int64, greeting string) (int64, error)
	ApplyForHandler(ctx context.Context, applyID, toUserID int64) (*FriendApply, error)
	ResolveApply(ctx context.Context, applyID int64, accepted bool) error
	AddFriendship(ctx context.Context, a, b int64) error
	ListFriends(ctx context.Context, userID int64) ([]FriendEntry, error)
	DeleteFriendship(ctx context.Context, a, b int64) error
	SetBlocked(ctx context.Context, userID, targetUserID int64, blocked bool) error
}

type GroupStore interface {
	CreateGroup(ctx context.Context, name string, ownerID int64, avatarURL string, memberIDs []int64) (*Group, error)
	GetGroup(ctx context.Context, groupID int64) (*Group, error)
	ListGroups(ctx context.Context, userID int64) ([]GroupEntry, error)
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	MemberRole(ctx context.Context, groupID, userID int64) (string, error)
	ListMembers(ctx context.Context, groupID int64) ([]MemberEntry, error)
	AddMembers(ctx context.Context, groupID int64, memberIDs []int64) ([]int64, error)
	RemoveMember(ctx context.Context, groupID, userID int64) error
	DismissGroup(ctx context.Context, groupID int64) error
	UpdateGroupInfo(ctx context.Context, groupID int64, name, announcement string) error
}

// Store implements the three facades over one gorm handle.
type Store struct {
	db      *gorm.DB
	breaker *gobreaker.CircuitBreaker
	met     *metrics.Metrics
	log     *slog.Logger

	members *memberCache
}

// New opens the MySQL connection and configures pooling and the breaker.
// Connection failures at startup are fatal by contract.
func New(cfg *config.Config, met *metrics.Metrics, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := NewWithDB(db, cfg.Database.GroupCacheTTL, met, log)

	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// NewWithDB wires the breaker and cache around an existing gorm handle.
// Tests use it with an in-memory database.
func NewWithDB(db *gorm.DB, cacheTTL time.Duration, met *metrics.Metrics, log *slog.Logger) *Store {
	s := &Store{
		db:  db,
		met: met,
		log: log,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mysql",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("database breaker state change",
				"from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				met.BreakerState.Set(1)
			} else {
				met.BreakerState.Set(0)
			}
		},
	})
	s.members = newMemberCache(cacheTTL)
	return s
}

// Migrate creates or updates the schema. The unique index on users.username
// is what makes concurrent registration of the same name safe.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&User{},
		&Friend{},
		&FriendApply{},
		&Group{},
		&GroupMember{},
	)
}

// Ping reports database health for the admin endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// run executes op through the breaker. Sentinel errors (not found, bad
// credentials, duplicate name) are domain outcomes, not infrastructure
// failures: they pass through unchanged and do not count against the
// breaker. An open breaker surfaces as ErrUnavailable.
func (s *Store) run(op func() error) error {
	res, err := s.breaker.Execute(func() (any, error) {
		if err := op(); err != nil {
			if isDomainErr(err) {
				return err, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		s.met.StoreFailures.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrUnavailable
		}
		return err
	}
	if res != nil {
		return res.(error)
	}
	return nil
}

func isDomainErr(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUsernameTaken)
}
