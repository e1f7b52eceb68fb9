package user

import (
	"time"

	"github.com/google/uuid"
)

const (
	TierFree       = "free"
	TierStarter    = "starter"
	TierPro        = "pro"
	TierBusiness   = "business"
	TierEnterprise = "enterprise"
)

type User struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email      string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password   string    `gorm:"not null;column:password" json:"-"`
	FirstName  string    `gorm:"column:first_name" json:"first_name"`
	LastName   string    `gorm:"column:last_name" json:"last_name"`
	Tier       string    `gorm:"not null;default:'free';index" json:"tier"`
	IsAdmin    bool      `gorm:"not null;default:false" json:"is_admin"`
	Status     string    `gorm:"not null;default:'active';index" json:"status"`
	APIKeyHash string    `gorm:"column:api_key_hash" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }
