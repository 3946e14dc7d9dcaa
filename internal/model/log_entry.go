package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaType 影视类型
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// CommentType 短评 / 长评
type CommentType string

const (
	CommentQuickTake      CommentType = "QUICK_TAKE"
	CommentDeeperThoughts CommentType = "DEEPER_THOUGHTS"
)

// LogEntry 空间内的一部影视，(space, tmdb_id, tmdb_type) 唯一
type LogEntry struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SpaceID   uuid.UUID `json:"space_id" gorm:"type:uuid;not null;uniqueIndex:idx_log_entry_media,priority:1"`
	TmdbID    string    `json:"tmdb_id" gorm:"size:32;not null;uniqueIndex:idx_log_entry_media,priority:2"`
	TmdbType  MediaType `json:"tmdb_type" gorm:"size:8;not null;uniqueIndex:idx_log_entry_media,priority:3"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
	Space     *Space    `json:"space,omitempty" gorm:"foreignKey:SpaceID"`
	Ratings   []Rating  `json:"ratings,omitempty" gorm:"foreignKey:LogEntryID"`
}

func (e *LogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Rating 某用户对一条记录的评分（0.5 ~ 5，半星步进）
type Rating struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	LogEntryID uuid.UUID `json:"log_entry_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Value      float64   `json:"value" gorm:"not null"`
	WatchedOn  time.Time `json:"watched_on" gorm:"type:date;not null;index"`
	CreatedAt  time.Time `json:"created_at"`
	LogEntry   *LogEntry `json:"log_entry,omitempty" gorm:"foreignKey:LogEntryID"`
	User       *Profile  `json:"user,omitempty" gorm:"foreignKey:UserID;references:UserID"`
	Comments   []Comment `json:"comments,omitempty" gorm:"foreignKey:RatingID"`
}

func (r *Rating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Comment 返回指定类型的评论
func (r *Rating) Comment(t CommentType) *Comment {
	for i := range r.Comments {
		if r.Comments[i].Type == t {
			return &r.Comments[i]
		}
	}
	return nil
}

// Comment 评分附带的文字
type Comment struct {
	ID        uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	RatingID  uuid.UUID   `json:"rating_id" gorm:"type:uuid;not null;index"`
	UserID    uuid.UUID   `json:"user_id" gorm:"type:uuid;not null"`
	Type      CommentType `json:"type" gorm:"size:16;not null"`
	Content   string      `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time   `json:"created_at"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// PendingRating 待评分：共享空间内其他成员记录后，当前用户欠一个评分
type PendingRating struct {
	LogEntryID uuid.UUID `json:"log_entry_id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey;index"`
	CreatedAt  time.Time `json:"created_at"`
	LogEntry   *LogEntry `json:"log_entry,omitempty" gorm:"foreignKey:LogEntryID"`
}

// DateOnly 截断为 UTC 零点
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
