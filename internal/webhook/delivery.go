package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// sign computes the X-Uho-Signature value: sha256=hex(HMAC_SHA256(secret, body)).
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliveryClient POSTs signed webhook payloads with a 10s timeout,
// grounded on the teacher's DirectDelivery.postToURL idiom, narrowed to
// the single generic-JSON contract spec §6 defines (no Discord/Slack/
// Telegram formatting — this system has exactly one wire format).
type deliveryClient struct {
	client       *http.Client
	allowPlainHTTP bool // true outside production, per spec §4.9
}

func newDeliveryClient(allowPlainHTTP bool) *deliveryClient {
	return &deliveryClient{
		client:         &http.Client{Timeout: 10 * time.Second},
		allowPlainHTTP: allowPlainHTTP,
	}
}

// deliver POSTs one signed attempt. Returns a non-nil error for any
// non-2xx response, a transport failure, or (in production mode) a
// non-HTTPS url — the latter is not retried by the caller, since it can
// never succeed.
func (c *deliveryClient) deliver(ctx context.Context, url, secret, eventName, deliveryID string, payload Payload) error {
	if !c.allowPlainHTTP && !strings.HasPrefix(url, "https://") {
		return backoff.Permanent(fmt.Errorf("webhook url %q must use https in production", url))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Uho-Signature", sign(secret, body))
	req.Header.Set("X-Uho-Event", eventName)
	req.Header.Set("X-Uho-Delivery-Id", deliveryID)
	req.Header.Set("X-Uho-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s returned %d", url, resp.StatusCode)
	}
	return nil
}
