package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkerStatus статус запуска воркера
type WorkerStatus string

const (
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// Имена зарегистрированных воркеров
const (
	WorkerBillingSweep = "billing-sweep"
	WorkerMandateSync  = "mandate-sync"
	WorkerDunningSweep = "dunning-sweep"
)

// WorkerExecution запись о запуске воркера. Запись со статусом running
// блокирует повторный запуск воркера с тем же именем — как по расписанию,
// так и вручную.
type WorkerExecution struct {
	ID              uuid.UUID         `json:"id"`
	WorkerName      string            `json:"worker_name"`
	Status          WorkerStatus      `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Duration        time.Duration     `json:"duration_ns,omitempty"`
	ItemsProcessed  int               `json:"items_processed"`
	ItemsSuccessful int               `json:"items_successful"`
	ItemsFailed     int               `json:"items_failed"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// WorkerResult итог работы тела воркера
type WorkerResult struct {
	Processed  int
	Successful int
	Failed     int
	Errors     []string
	Metadata   map[string]string
}

// AddError фиксирует ошибку по одному элементу, не прерывая обход остальных
func (r *WorkerResult) AddError(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
}
