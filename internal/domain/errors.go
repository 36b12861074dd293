package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInvalidTransition недопустимый переход статуса подписки
	ErrInvalidTransition = errors.New("invalid subscription state transition")

	// ErrMandateNotReady у подписки нет пригодного мандата для списаний
	ErrMandateNotReady = errors.New("no usable mandate for subscription")

	// ErrWorkerAlreadyRunning воркер с таким именем уже выполняется
	ErrWorkerAlreadyRunning = errors.New("worker already running")

	// ErrSubscriptionCancelled подписка отменена, операция невозможна
	ErrSubscriptionCancelled = errors.New("subscription cancelled")

	// ErrTierInactive тариф неактивен и недоступен для подписки
	ErrTierInactive = errors.New("membership tier is not active")

	// ErrProviderUnavailable платежный провайдер недоступен
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")
)

// StateConflictError представляет отказ в переходе статуса подписки
type StateConflictError struct {
	SubscriptionID string
	From           SubscriptionStatus
	To             SubscriptionStatus
}

// Error реализует интерфейс error
func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot transition subscription %s from %s to %s", e.SubscriptionID, e.From, e.To)
}

// Is проверяет, является ли ошибка ошибкой недопустимого перехода
func (e *StateConflictError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewStateConflictError создает новую ошибку конфликта статусов
func NewStateConflictError(subscriptionID string, from, to SubscriptionStatus) *StateConflictError {
	return &StateConflictError{
		SubscriptionID: subscriptionID,
		From:           from,
		To:             to,
	}
}

// ProviderError представляет ошибку платежного провайдера. Transient
// ошибки (таймауты, 5xx) повторяются на уровне отправки и не увеличивают
// счетчик неудачных списаний подписки.
type ProviderError struct {
	Code        string
	Message     string
	StatusCode  int
	Transient   bool
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ProviderError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("provider error [%s]: %s: %v", e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("provider error [%s]: %s", e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ProviderError) Unwrap() error {
	return e.OriginalErr
}

// NewProviderError создает новую ошибку провайдера
func NewProviderError(code, message string, statusCode int, transient bool, err error) *ProviderError {
	return &ProviderError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Transient:   transient,
		OriginalErr: err,
	}
}

// IsTransientProviderError ошибка провайдера временная и подлежит повтору
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// ValidationError представляет ошибку валидации
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}

	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Is проверяет принадлежность к ошибкам входных данных
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
