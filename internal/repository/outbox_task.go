package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

const (
	TopicScheduleCapacity = "schedule.capacity"
	TopicOrderEvents      = "order.events"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// CapacityCheckPayload asks for a (restaurant, date) saturation re-check.
type CapacityCheckPayload struct {
	RestaurantID string    `json:"restaurantId"`
	DeliveryDate time.Time `json:"deliveryDate"`
}

type OrderEventType string

const (
	OrderEventPending   OrderEventType = "order.pending"
	OrderEventCreated   OrderEventType = "order.created"
	OrderEventPaid      OrderEventType = "order.paid"
	OrderEventExpired   OrderEventType = "order.expired"
	OrderEventCancelled OrderEventType = "order.cancelled"
)

// OrderEventPayload is published to the order.events broker topic.
type OrderEventPayload struct {
	Type       OrderEventType `json:"type"`
	CustomerID string         `json:"customerId,omitempty"`
	PendingKey string         `json:"pendingKey,omitempty"`
	OrderIDs   []string       `json:"orderIds,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
