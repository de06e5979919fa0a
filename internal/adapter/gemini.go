package adapter

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/chatflow-app/chatflow/internal/store"
)

// geminiUserAgent is the client identifier the internal API expects from
// the Gemini CLI path.
const geminiUserAgent = "antigravity"

// Gemini builds envelopes for the internal streamGenerateContent API in the
// Gemini CLI shape: the request payload nests a sessionId alongside contents
// and generation config.
type Gemini struct{}

// BuildEnvelope converts the message list into a Gemini CLI envelope.
func (Gemini) BuildEnvelope(messages []store.Message, model string, opts Options) ([]byte, error) {
	contents, systemText := buildContents(messages)

	request, _ := sjson.SetRaw(`{}`, "contents", contents)
	if systemText != "" {
		request, _ = sjson.SetRaw(request, "systemInstruction", systemInstructionJSON(systemText))
	}
	if opts.Temperature != nil {
		request, _ = sjson.Set(request, "generationConfig.temperature", *opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		request, _ = sjson.Set(request, "generationConfig.maxOutputTokens", opts.MaxTokens)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "sess-" + shortID()
	}
	request, _ = sjson.Set(request, "sessionId", sessionID)

	projectID := opts.ProjectID
	if projectID == "" {
		projectID = "ag-" + shortID()
	}
	requestID := opts.RequestID
	if requestID == "" {
		requestID = "req-" + uuid.NewString()
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	envelope, _ := sjson.Set(`{}`, "project", projectID)
	envelope, _ = sjson.Set(envelope, "requestId", requestID)
	envelope, _ = sjson.Set(envelope, "model", model)
	envelope, _ = sjson.Set(envelope, "userAgent", geminiUserAgent)
	envelope, err := sjson.SetRaw(envelope, "request", request)
	if err != nil {
		return nil, err
	}
	return []byte(envelope), nil
}
