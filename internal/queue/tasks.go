package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/deepfry/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeFryImage = "deepfry:process"

type FryImagePayload struct {
	JobID       string        `json:"job_id"`
	SourceType  string        `json:"source_type"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	ObjectKey   string        `json:"object_key"`
	Recipe      domain.Recipe `json:"recipe"`
	Format      string        `json:"format,omitempty"`
	Quality     int           `json:"quality,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

func NewFryImageTask(payload FryImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal fry payload: %w", err)
	}
	return asynq.NewTask(TypeFryImage, body), nil
}

func ParseFryImagePayload(task *asynq.Task) (FryImagePayload, error) {
	var payload FryImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FryImagePayload{}, fmt.Errorf("unmarshal fry payload: %w", err)
	}
	return payload, nil
}
