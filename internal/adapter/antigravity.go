package adapter

import (
	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/chatflow-app/chatflow/internal/store"
)

const (
	// antigravityUserAgent mirrors the desktop client's identifier.
	antigravityUserAgent = "antigravity/1.11.9 windows/amd64"

	antigravityRequestType = "GENERATE_CONTENT"

	// defaultMaxOutputTokens applies when the caller sets no limit.
	defaultMaxOutputTokens = 64000
)

// Safety filtering is disabled wholesale; moderation is the client's
// responsibility on this path.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// Antigravity builds envelopes for the internal streamGenerateContent API in
// the Antigravity shape: fixed safety settings, a generation config with a
// default output budget, and a requestType discriminator.
type Antigravity struct{}

// BuildEnvelope converts the message list into an Antigravity envelope.
func (Antigravity) BuildEnvelope(messages []store.Message, model string, opts Options) ([]byte, error) {
	contents, systemText := buildContents(messages)

	request, _ := sjson.SetRaw(`{}`, "contents", contents)
	for _, category := range safetyCategories {
		setting, _ := sjson.Set(`{}`, "category", category)
		setting, _ = sjson.Set(setting, "threshold", "OFF")
		request, _ = sjson.SetRaw(request, "safetySettings.-1", setting)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	request, _ = sjson.Set(request, "generationConfig.maxOutputTokens", maxTokens)
	if opts.Temperature != nil {
		request, _ = sjson.Set(request, "generationConfig.temperature", *opts.Temperature)
	}
	if systemText != "" {
		request, _ = sjson.SetRaw(request, "systemInstruction", systemInstructionJSON(systemText))
	}

	projectID := opts.ProjectID
	if projectID == "" {
		projectID = "ag-" + shortID()
	}
	requestID := opts.RequestID
	if requestID == "" {
		requestID = "agent-" + uuid.NewString()
	}

	envelope, _ := sjson.Set(`{}`, "project", projectID)
	envelope, _ = sjson.Set(envelope, "requestId", requestID)
	envelope, err := sjson.SetRaw(envelope, "request", request)
	if err != nil {
		return nil, err
	}
	envelope, _ = sjson.Set(envelope, "model", model)
	envelope, _ = sjson.Set(envelope, "userAgent", antigravityUserAgent)
	envelope, _ = sjson.Set(envelope, "requestType", antigravityRequestType)
	return []byte(envelope), nil
}
