package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const signaturePrefix = "sha256="

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// Sign returns the signature header value for a delivery: an HMAC-SHA256 of
// "<timestamp>.<body>" keyed with secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received delivery against secret. Deliveries whose
// timestamp is more than tolerance away from now are rejected; a zero
// tolerance disables that check.
func Verify(secret string, header http.Header, body []byte, tolerance time.Duration, now time.Time) error {
	timestamp := header.Get(HeaderTimestamp)
	signature := header.Get(HeaderSignature)
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing %s or %s", ErrInvalidSignature, HeaderTimestamp, HeaderSignature)
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timestamp %q", ErrInvalidSignature, timestamp)
		}
		skew := now.Sub(time.Unix(unix, 0)).Abs()
		if skew > tolerance {
			return fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew)
		}
	}

	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
