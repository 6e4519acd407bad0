package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"drivepass-billing/internal/domain"
)

const correlationSep = "_"

// Metadata keys written to the provider at checkout alongside the token.
const (
	MetaUserID    = "user_id"
	MetaPackageID = "package_id"
)

// Correlation maps a provider notification back to the purchase it belongs to.
type Correlation struct {
	UserID    string
	PackageID string
}

// NewCorrelationToken mints "<userId>_<packageId>_<unixMillis>".
// Identifiers containing the separator are refused so that parsing stays unambiguous.
func NewCorrelationToken(userID, packageID string, at time.Time) (string, error) {
	if userID == "" || packageID == "" {
		return "", fmt.Errorf("%w: empty identifier", domain.ErrInvalidArgument)
	}
	if strings.Contains(userID, correlationSep) || strings.Contains(packageID, correlationSep) {
		return "", fmt.Errorf("%w: identifier contains %q", domain.ErrInvalidArgument, correlationSep)
	}
	return userID + correlationSep + packageID + correlationSep + strconv.FormatInt(at.UnixMilli(), 10), nil
}

// ParseCorrelationToken splits on the separator and keeps the first two segments.
func ParseCorrelationToken(token string) (Correlation, error) {
	parts := strings.Split(strings.TrimSpace(token), correlationSep)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Correlation{}, fmt.Errorf("%w: %q", domain.ErrMalformedCorrelation, token)
	}
	return Correlation{UserID: parts[0], PackageID: parts[1]}, nil
}

// ResolveCorrelation prefers the token and falls back to structured metadata.
func ResolveCorrelation(token string, meta map[string]string) (Correlation, error) {
	c, err := ParseCorrelationToken(token)
	if err == nil {
		return c, nil
	}
	if meta != nil && meta[MetaUserID] != "" && meta[MetaPackageID] != "" {
		return Correlation{UserID: meta[MetaUserID], PackageID: meta[MetaPackageID]}, nil
	}
	return Correlation{}, err
}
