// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

// OpsAlerter delivers operator alerts (integrity violations, stuck payments).
type OpsAlerter interface {
	Alert(ctx context.Context, text string) error
}
