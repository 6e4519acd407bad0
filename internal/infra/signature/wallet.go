package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// WalletVerifier checks Mercado Pago "x-signature: ts=<unix>,v1=<hex>" headers.
type WalletVerifier struct {
	secret    []byte
	tolerance time.Duration // 0 disables the freshness check
	now       func() time.Time
}

// NewWalletVerifier returns a verifier for secret. An empty secret yields an
// insecure verifier that accepts every request; config refuses that in production.
func NewWalletVerifier(secret string, tolerance time.Duration) *WalletVerifier {
	return &WalletVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Insecure reports whether verification is disabled.
func (v *WalletVerifier) Insecure() bool { return len(v.secret) == 0 }

// Verify recomputes HMAC-SHA256 over "id:<resourceID>;request-id:<requestID>;ts:<ts>;".
func (v *WalletVerifier) Verify(header, requestID, resourceID string) bool {
	if v.Insecure() {
		return true
	}
	if requestID == "" || resourceID == "" {
		return false
	}
	ts, sig, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		// Mercado Pago sends seconds; tolerate milliseconds as well.
		if sec > 1e12 {
			sec /= 1000
		}
		if d := v.now().Sub(time.Unix(sec, 0)); d > v.tolerance || d < -v.tolerance {
			return false
		}
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.sign(Manifest(resourceID, requestID, ts)))
}

func (v *WalletVerifier) sign(manifest string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(manifest))
	return h.Sum(nil)
}

// Manifest builds the signed template. Mercado Pago signs alphanumeric ids lower-cased.
func Manifest(resourceID, requestID, ts string) string {
	return "id:" + strings.ToLower(resourceID) + ";request-id:" + requestID + ";ts:" + ts + ";"
}

// SignWallet produces a header value for tests and local tooling.
func SignWallet(secret, resourceID, requestID string, ts int64) string {
	t := strconv.FormatInt(ts, 10)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(Manifest(resourceID, requestID, t)))
	return "ts=" + t + ",v1=" + hex.EncodeToString(h.Sum(nil))
}

func parseSignatureHeader(header string) (ts, v1 string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(val)
		case "v1":
			v1 = strings.TrimSpace(val)
		}
	}
	return ts, v1, ts != "" && v1 != ""
}
