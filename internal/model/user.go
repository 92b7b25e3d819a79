package model

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialgraph/internal/registry"
)

const UserIdentifier = "user"

type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Username  string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email     string `gorm:"type:varchar(128);uniqueIndex;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

func (u *User) Ref() registry.Ref {
	return registry.Ref{Identifier: UserIdentifier, ObjectID: u.ID}
}

// UserSource resolves user refs for the registry.
type UserSource struct {
	db *gorm.DB
}

func NewUserSource(db *gorm.DB) *UserSource { return &UserSource{db: db} }

func (s *UserSource) Identifier() string { return UserIdentifier }

func (s *UserSource) Load(ctx context.Context, objectID int64) (interface{}, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, objectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
