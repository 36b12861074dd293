package domain

import (
	"time"

	"github.com/google/uuid"
)

// Причины блокировки подписки от списаний, собираемые диагностикой
const (
	BlockerNoMandate            = "no mandate resolvable for subscription"
	BlockerMandateNotActive     = "resolved mandate is not active"
	BlockerNoDefaultMandate     = "subscription references no mandate and payer has no default"
	BlockerMissingRemoteRecord  = "provider subscription id present locally but absent remotely"
	BlockerMissingLocalPayments = "provider subscription id present but no local payment history"
)

// SubscriptionDiagnostic результат сверки одной подписки с состоянием
// провайдера. NeedsSync может быть true и без блокировок — например,
// при косметическом расхождении статусов мандата.
type SubscriptionDiagnostic struct {
	SubscriptionID      uuid.UUID          `json:"subscription_id"`
	Status              SubscriptionStatus `json:"status"`
	MandateID           *uuid.UUID         `json:"mandate_id,omitempty"`
	LocalMandateStatus  MandateStatus      `json:"local_mandate_status,omitempty"`
	RemoteMandateStatus MandateStatus      `json:"remote_mandate_status,omitempty"`
	NeedsSync           bool               `json:"needs_sync"`
	SyncBlockers        []string           `json:"sync_blockers,omitempty"`
}

// Blocked подписка не может быть выставлена к оплате
func (d *SubscriptionDiagnostic) Blocked() bool {
	return len(d.SyncBlockers) > 0
}

// DiagnosticReport отчет сверки по всем активным и ожидающим подпискам.
// Отчет только читает состояние — сверка никогда не изменяет подписки.
type DiagnosticReport struct {
	GeneratedAt   time.Time                `json:"generated_at"`
	Total         int                      `json:"total"`
	NeedingSync   int                      `json:"needing_sync"`
	BlockedCount  int                      `json:"blocked"`
	Subscriptions []SubscriptionDiagnostic `json:"subscriptions"`
}
