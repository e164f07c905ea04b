package bus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TriggerMatching scopes one matching pass. Both id sets are optional; an
// empty message means "scan the recent window".
type TriggerMatching struct {
	SubscriptionIDs   []uuid.UUID `json:"subscription_ids"`
	DatasetHarvestIDs []uuid.UUID `json:"dataset_harvest_ids"`
}

// TriggerNotifying scopes one notification pass. An empty message means
// "scan the recent window".
type TriggerNotifying struct {
	SubscriptionMatchIDs []uuid.UUID `json:"subscription_match_ids"`
}

func EncodeTriggerMatching(m TriggerMatching) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode trigger_matching: %w", err)
	}
	return string(data), nil
}

// DecodeTriggerMatching fails closed: a blank or malformed payload yields the
// zero message (empty scope) so that a bad publisher can never crash a worker,
// only widen its next pass.
func DecodeTriggerMatching(payload string) (TriggerMatching, error) {
	if strings.TrimSpace(payload) == "" {
		return TriggerMatching{}, nil
	}
	var m TriggerMatching
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return TriggerMatching{}, fmt.Errorf("decode trigger_matching: %w", err)
	}
	return m, nil
}

func EncodeTriggerNotifying(m TriggerNotifying) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode trigger_notifying: %w", err)
	}
	return string(data), nil
}

// DecodeTriggerNotifying fails closed the same way DecodeTriggerMatching does.
func DecodeTriggerNotifying(payload string) (TriggerNotifying, error) {
	if strings.TrimSpace(payload) == "" {
		return TriggerNotifying{}, nil
	}
	var m TriggerNotifying
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return TriggerNotifying{}, fmt.Errorf("decode trigger_notifying: %w", err)
	}
	return m, nil
}
