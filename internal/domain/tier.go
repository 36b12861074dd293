package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MembershipTier представляет собой тариф членства в клубе. Подписка снимает
// цену тарифа в момент оформления, поэтому изменение Price не влияет на
// уже существующие подписки.
type MembershipTier struct {
	ID        uuid.UUID       `json:"id"`
	ClubID    uuid.UUID       `json:"club_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
