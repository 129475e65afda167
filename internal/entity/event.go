package entity

import (
	"encoding/json"
	"time"
)

// Event is one append-only audit record of an executed decision.
type Event struct {
	CampaignID uint            `json:"campaign_id"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
