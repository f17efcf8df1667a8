package webhook

import "time"

// Payload is the bit-exact webhook body per spec §6:
// {"id":"del_xxx","event":"…","programId":"…","data":{…},"slot":123,
//  "txSignature":"…","timestamp":"2025-01-01T00:00:00.000Z"}.
type Payload struct {
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	ProgramID   string         `json:"programId"`
	Data        map[string]any `json:"data"`
	Slot        uint64         `json:"slot"`
	TxSignature string         `json:"txSignature"`
	Timestamp   string         `json:"timestamp"`
}

// NewPayload stamps the current time in the millisecond-precision RFC-3339
// form the wire format shows ("2025-01-01T00:00:00.000Z").
func NewPayload(deliveryID, event, programID string, data map[string]any, slot uint64, txSignature string, now time.Time) Payload {
	return Payload{
		ID:          deliveryID,
		Event:       event,
		ProgramID:   programID,
		Data:        data,
		Slot:        slot,
		TxSignature: txSignature,
		Timestamp:   now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
