package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// verifySignature checks the X-Slack-Signature HMAC-SHA256 ("v0=" over
// "v0:<timestamp>:<body>") using signingSecret, and rejects deliveries
// whose X-Slack-Request-Timestamp falls outside skew of now, guarding
// ingress against replayed webhook deliveries.
func verifySignature(signingSecret string, headers http.Header, body []byte, now time.Time, skew time.Duration) error {
	tsHeader := headers.Get("X-Slack-Request-Timestamp")
	if tsHeader == "" {
		return fmt.Errorf("slack: missing request timestamp header")
	}
	sec, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("slack: malformed request timestamp: %w", err)
	}
	delivered := time.Unix(sec, 0)
	if delta := now.Sub(delivered); delta > skew || delta < -skew {
		return fmt.Errorf("slack: request timestamp outside replay window: %v", delta)
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte("v0:" + tsHeader + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(headers.Get("X-Slack-Signature"))) {
		return fmt.Errorf("slack: signature mismatch")
	}
	return nil
}
