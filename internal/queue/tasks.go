package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/recipe-extractor/internal/processor"
)

// TypeRecipeExtract is the asynq task type for one image extraction
const TypeRecipeExtract = "recipe:extract"

// ExtractPayload is the task payload. Image bytes travel base64 encoded.
type ExtractPayload struct {
	JobID    string `json:"jobId"`
	Image    []byte `json:"image"`
	MimeType string `json:"mimeType"`
	Language string `json:"language,omitempty"`
}

// NewExtractTask builds the task for a payload
func NewExtractTask(p *ExtractPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if len(p.Image) == 0 {
		return nil, fmt.Errorf("image is required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extract payload: %w", err)
	}
	return asynq.NewTask(TypeRecipeExtract, data, opts...), nil
}

// ParseExtractPayload decodes a task payload
func ParseExtractPayload(task *asynq.Task) (*ExtractPayload, error) {
	var p ExtractPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extract payload: %w", err)
	}
	if p.JobID == "" || len(p.Image) == 0 {
		return nil, fmt.Errorf("extract payload is missing jobId or image")
	}
	return &p, nil
}

// Request converts the payload into a pipeline request. The job ID doubles
// as the request ID so runs can be correlated with jobs.
func (p *ExtractPayload) Request() *processor.ExtractRequest {
	return &processor.ExtractRequest{
		RequestID: p.JobID,
		Image:     processor.RawImage{Data: p.Image, MimeType: p.MimeType},
		Language:  p.Language,
	}
}
