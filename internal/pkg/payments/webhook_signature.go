package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how far a signed timestamp may drift
// before the delivery is treated as a replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyWebhookSignature checks a Stripe-Signature header against the raw
// payload. The header carries a timestamp and one or more v1 signatures,
// each an HMAC-SHA256 of "<timestamp>.<payload>" keyed with the webhook
// secret. Any matching v1 signature within the tolerance window validates.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return false
	}

	if tolerance > 0 {
		drift := time.Since(time.Unix(timestamp, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := mac.Sum(nil)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}
