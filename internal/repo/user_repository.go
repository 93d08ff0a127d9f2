package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/DSkillz/ProNet-sub001/internal/db"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidSession = errors.New("invalid or expired session")
)

type UserRepository interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UserForToken(ctx context.Context, token string) (string, error)
}

type userRepository struct {
	con      *mongo.Database
	users    *db.Repository[model.User]
	sessions *db.Repository[model.Session]
}

func NewUserRepository(con *mongo.Database, users *db.Repository[model.User], sessions *db.Repository[model.Session]) UserRepository {
	return &userRepository{
		con:      con,
		users:    users,
		sessions: sessions,
	}
}

func (r *userRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	user, err := r.users.FindOne(ctx, db.NewFilter().Eq("user_id", userID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UserForToken resolves a bearer token to a member ID through the
// sessions collection. Sessions are issued elsewhere; an unknown or
// expired token fails with ErrInvalidSession.
func (r *userRepository) UserForToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	session, err := r.sessions.FindOne(ctx, db.NewFilter().Eq("token", token).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrInvalidSession
		}
		return "", err
	}
	if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(time.Now()) {
		return "", ErrInvalidSession
	}
	return session.UserID, nil
}
