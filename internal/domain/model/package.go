package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
)

// Unlimited is the included-quantity sentinel meaning "no upper bound".
const Unlimited = -1

// Package is a purchasable bundle of entitlements (read-only for billing).
type Package struct {
	ID                         string
	Name                       string
	Price                      decimal.Decimal
	Currency                   string
	PracticalHoursIncluded     int
	TheoreticalClassesIncluded int
	SimulationsIncluded        int
	SupportAccess              bool
	Active                     bool
	CreatedAt                  time.Time
}

func (p *Package) IsZero() bool { return p == nil || p.ID == "" }

// Included returns the included quantity for kind, or Unlimited.
func (p *Package) Included(kind UsageKind) int {
	switch kind {
	case UsagePracticalHours:
		return p.PracticalHoursIncluded
	case UsageTheoreticalClasses:
		return p.TheoreticalClassesIncluded
	case UsageSimulations:
		return p.SimulationsIncluded
	}
	return 0
}

// NewPackage validates and constructs a package.
func NewPackage(id, name string, price decimal.Decimal, currency string, hours, classes, simulations int, support bool) (*Package, error) {
	if id == "" || name == "" || !price.IsPositive() || strings.TrimSpace(currency) == "" {
		return nil, domain.ErrInvalidArgument
	}
	for _, q := range []int{hours, classes, simulations} {
		if q < Unlimited {
			return nil, domain.ErrInvalidArgument
		}
	}
	return &Package{
		ID:                         id,
		Name:                       name,
		Price:                      price,
		Currency:                   strings.ToUpper(currency),
		PracticalHoursIncluded:     hours,
		TheoreticalClassesIncluded: classes,
		SimulationsIncluded:        simulations,
		SupportAccess:              support,
		Active:                     true,
		CreatedAt:                  time.Now(),
	}, nil
}
