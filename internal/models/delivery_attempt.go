package models

import (
	"database/sql"
	"time"
)

// AttemptStatus is the outcome of one delivery to one recipient.
type AttemptStatus string

const (
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
)

// DeliveryAttempt represents a row in the 'delivery_attempts' table
type DeliveryAttempt struct {
	ID          int64          `db:"id" json:"id"`
	PostID      PostID         `db:"post_id" json:"post_id"`
	RecipientID RecipientID    `db:"recipient_id" json:"recipient_id"`
	Endpoint    string         `db:"endpoint" json:"endpoint"`
	Status      AttemptStatus  `db:"status" json:"status"`
	Error       sql.NullString `db:"error" json:"-"`
	AttemptedAt time.Time      `db:"attempted_at" json:"attempted_at"`
}
