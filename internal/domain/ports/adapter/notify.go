package adapter

import (
	"context"
	"time"
)

// PackageActivated is published after a user package becomes active.
type PackageActivated struct {
	UserID        string    `json:"user_id"`
	PackageID     string    `json:"package_id"`
	UserPackageID string    `json:"user_package_id"`
	PaymentID     string    `json:"payment_id"`
	Provider      string    `json:"provider"`
	ActivatedAt   time.Time `json:"activated_at"`
}

// EventPublisher hands notifications to the email collaborator. Delivery is best effort.
type EventPublisher interface {
	PublishPackageActivated(ctx context.Context, ev PackageActivated) error
	Close() error
}
