// utils/signature.go
package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Header names carried on every outbound webhook request.
const (
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
)

// SignWebhookPayload computes the hex HMAC-SHA256 of "{timestamp}.{body}"
// under the tenant's signing secret. Receivers rebuild the same string from
// the header timestamp and the raw body to verify. Computed fresh per attempt;
// the timestamp changes each time.
func SignWebhookPayload(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature is the receiver-side counterpart, constant-time.
func VerifyWebhookSignature(secret string, timestamp int64, body []byte, signature string) bool {
	expected := SignWebhookPayload(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
