package model

import (
	"time"

	"drivepass-billing/internal/domain"
)

type UserPackageStatus string

const (
	UserPackageStatusActive  UserPackageStatus = "active"
	UserPackageStatusExpired UserPackageStatus = "expired"
)

type UsageKind string

const (
	UsagePracticalHours     UsageKind = "practical_hours"
	UsageTheoreticalClasses UsageKind = "theoretical_classes"
	UsageSimulations        UsageKind = "simulations"
)

func (k UsageKind) Valid() bool {
	switch k {
	case UsagePracticalHours, UsageTheoreticalClasses, UsageSimulations:
		return true
	}
	return false
}

// UserPackage is one grant of a package to a user. Expired rows are never reactivated;
// a new purchase always inserts a new row.
type UserPackage struct {
	ID          string // UUID
	UserID      string
	PackageID   string
	PaymentID   string // originating payment
	Status      UserPackageStatus
	PurchasedAt time.Time
	ExpiredAt   *time.Time

	PracticalHoursUsed     int
	TheoreticalClassesUsed int
	SimulationsUsed        int
}

// NewUserPackage returns an active grant with all counters at zero.
func NewUserPackage(id, userID, packageID, paymentID string, now time.Time) (*UserPackage, error) {
	if id == "" || userID == "" || packageID == "" || paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &UserPackage{
		ID:          id,
		UserID:      userID,
		PackageID:   packageID,
		PaymentID:   paymentID,
		Status:      UserPackageStatusActive,
		PurchasedAt: now,
	}, nil
}

func (u *UserPackage) IsActive() bool { return u != nil && u.Status == UserPackageStatusActive }

// Used returns the consumed quantity for kind.
func (u *UserPackage) Used(kind UsageKind) int {
	switch kind {
	case UsagePracticalHours:
		return u.PracticalHoursUsed
	case UsageTheoreticalClasses:
		return u.TheoreticalClassesUsed
	case UsageSimulations:
		return u.SimulationsUsed
	}
	return 0
}

// CanConsume reports whether amount more units of kind fit under the package bound.
func (u *UserPackage) CanConsume(pkg *Package, kind UsageKind, amount int) bool {
	included := pkg.Included(kind)
	if included == Unlimited {
		return true
	}
	return u.Used(kind)+amount <= included
}

// Consume applies amount to the in-memory counter. Callers check CanConsume first.
func (u *UserPackage) Consume(kind UsageKind, amount int) {
	switch kind {
	case UsagePracticalHours:
		u.PracticalHoursUsed += amount
	case UsageTheoreticalClasses:
		u.TheoreticalClassesUsed += amount
	case UsageSimulations:
		u.SimulationsUsed += amount
	}
}

// Consumption is a committed counter update and the balance it leaves.
type Consumption struct {
	UserPackage *UserPackage
	Balance     Balance
}

// Balance is the remaining quantity per kind; Unlimited for unbounded kinds.
type Balance struct {
	PracticalHours     int `json:"practical_hours"`
	TheoreticalClasses int `json:"theoretical_classes"`
	Simulations        int `json:"simulations"`
}

func (u *UserPackage) Remaining(pkg *Package) Balance {
	rem := func(kind UsageKind) int {
		inc := pkg.Included(kind)
		if inc == Unlimited {
			return Unlimited
		}
		if left := inc - u.Used(kind); left > 0 {
			return left
		}
		return 0
	}
	return Balance{
		PracticalHours:     rem(UsagePracticalHours),
		TheoreticalClasses: rem(UsageTheoreticalClasses),
		Simulations:        rem(UsageSimulations),
	}
}
