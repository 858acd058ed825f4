package models

import "time"

// Tier enumerates subscription tiers.
type Tier string

const (
	TierFree    Tier = "free"
	TierCreator Tier = "creator"
	TierTeam    Tier = "team"
)

// TierLimits holds the fixed limits attached to a tier.
type TierLimits struct {
	MaxQueueSlots   int
	MaxPostsInQueue int
}

var tierLimits = map[Tier]TierLimits{
	TierFree:    {MaxQueueSlots: 10, MaxPostsInQueue: 30},
	TierCreator: {MaxQueueSlots: 50, MaxPostsInQueue: 200},
	TierTeam:    {MaxQueueSlots: 200, MaxPostsInQueue: 1000},
}

// LimitsForTier resolves tier limits. Unknown tiers get free limits.
func LimitsForTier(tier Tier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// Workspace owns slot definitions and posts.
type Workspace struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	Timezone  string `gorm:"type:varchar(64);not null;default:'UTC'"`
	Tier      Tier   `gorm:"type:varchar(16);not null;default:'free'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Limits resolves the workspace's tier limits.
func (w Workspace) Limits() TierLimits {
	return LimitsForTier(w.Tier)
}

// SlotDefinition is a recurring weekly publishing opportunity.
// At most one definition exists per (workspace, day, time, platform).
type SlotDefinition struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	WorkspaceID string `gorm:"type:uuid;index:idx_slot_defs_workspace;uniqueIndex:idx_slot_defs_identity;not null"`
	DayOfWeek   int    `gorm:"uniqueIndex:idx_slot_defs_identity;not null"`             // 1=Monday .. 7=Sunday
	TimeOfDay   string `gorm:"type:varchar(5);uniqueIndex:idx_slot_defs_identity;not null"` // local "HH:mm", 24h
	Platform    string `gorm:"type:varchar(32);uniqueIndex:idx_slot_defs_identity"`     // empty = all platforms
	Capacity    int    `gorm:"not null;default:1"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM.
func (SlotDefinition) TableName() string {
	return "slot_definitions"
}

// PostStatus tracks a post through the queue.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostScheduled PostStatus = "scheduled"
	PostPublished PostStatus = "published"
	PostFailed    PostStatus = "failed"
)

// Post is a schedulable content item. Body is opaque to the engine;
// content generation lives outside this service.
type Post struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	WorkspaceID string     `gorm:"type:uuid;index:idx_posts_workspace_time;not null"`
	Platform    string     `gorm:"type:varchar(32);index"`
	Status      PostStatus `gorm:"type:varchar(16);index;not null;default:'draft'"`
	Body        string     `gorm:"type:text"`
	ScheduledAt *time.Time `gorm:"index:idx_posts_workspace_time"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsScheduled reports whether the post holds a queue position.
func (p Post) IsScheduled() bool {
	return p.Status == PostScheduled && p.ScheduledAt != nil
}
