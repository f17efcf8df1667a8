package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/fanout"
)

func TestSignMatchesHMACSHA256(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, sign(secret, body))
}

func TestDeliverSendsSignedRequest(t *testing.T) {
	var gotSig, gotEvent, gotDeliveryID string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Uho-Signature")
		gotEvent = r.Header.Get("X-Uho-Event")
		gotDeliveryID = r.Header.Get("X-Uho-Delivery-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newDeliveryClient(true)
	payload := NewPayload("del_1", "SwapEvent", "prog1", map[string]any{"amount": "100"}, 42, "sig1", time.Now())

	err := c.deliver(context.Background(), srv.URL, "sekret", "SwapEvent", "del_1", payload)
	require.NoError(t, err)

	assert.Equal(t, "SwapEvent", gotEvent)
	assert.Equal(t, "del_1", gotDeliveryID)

	mac := hmac.New(sha256.New, []byte("sekret"))
	mac.Write(gotBody)
	wantSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, wantSig, gotSig)

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "prog1", decoded.ProgramID)
	assert.Equal(t, uint64(42), decoded.Slot)
}

func TestDeliverRejectsPlainHTTPInProduction(t *testing.T) {
	c := newDeliveryClient(false)
	payload := NewPayload("del_1", "E", "P", nil, 1, "sig", time.Now())
	err := c.deliver(context.Background(), "http://example.com/hook", "s", "E", "del_1", payload)
	assert.Error(t, err)
}

func TestMatchesEventFilter(t *testing.T) {
	wh := db.Webhook{EventFilter: []string{"SwapEvent"}}
	assert.True(t, matches(wh, fanout.Message{EventName: "SwapEvent"}))
	assert.False(t, matches(wh, fanout.Message{EventName: "OtherEvent"}))
}

func TestMatchesEmptyEventFilterMatchesEverything(t *testing.T) {
	wh := db.Webhook{}
	assert.True(t, matches(wh, fanout.Message{EventName: "Anything"}))
}

func TestMatchesFieldFilter(t *testing.T) {
	wh := db.Webhook{FieldFilter: []byte(`{"symbol":"USDC"}`)}
	assert.True(t, matches(wh, fanout.Message{Data: map[string]any{"symbol": "USDC", "amount": "1"}}))
	assert.False(t, matches(wh, fanout.Message{Data: map[string]any{"symbol": "SOL"}}))
}

func TestFixedScheduleReplaysOffsetGaps(t *testing.T) {
	s := newFixedSchedule(RetryOffsets)
	assert.Equal(t, 30*time.Second, s.NextBackOff())
	assert.Equal(t, 90*time.Second, s.NextBackOff())
	assert.Equal(t, 8*time.Minute, s.NextBackOff())
	assert.Equal(t, 50*time.Minute, s.NextBackOff())
	assert.Equal(t, backoff.Stop, s.NextBackOff())
}

func TestFixedScheduleResetReplaysFromStart(t *testing.T) {
	s := newFixedSchedule(RetryOffsets)
	s.NextBackOff()
	s.NextBackOff()
	s.Reset()
	assert.Equal(t, 30*time.Second, s.NextBackOff())
}
