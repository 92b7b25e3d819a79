package database

import "time"

// Follow is one directed edge. The composite unique index makes the
// follow operation idempotent at the storage layer.
type Follow struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	FromIdentifier string `gorm:"type:varchar(64);index:idx_follow_from;uniqueIndex:ux_follow_pair;not null"`
	FromObjectID   int64  `gorm:"index:idx_follow_from;uniqueIndex:ux_follow_pair;not null"`
	ToIdentifier   string `gorm:"type:varchar(64);index:idx_follow_to;uniqueIndex:ux_follow_pair;not null"`
	ToObjectID     int64  `gorm:"index:idx_follow_to;uniqueIndex:ux_follow_pair;not null"`
	CreatedAt      time.Time
}

func (Follow) TableName() string { return "follows" }
