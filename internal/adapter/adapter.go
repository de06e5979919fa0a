// Package adapter translates between the gateway's canonical message list
// and each upstream provider's wire format: envelope building on the request
// side, SSE delta extraction on the response side. The Gemini CLI and
// Antigravity variants share the content conversion rules and differ only in
// envelope shape.
package adapter

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/chatflow-app/chatflow/internal/store"
)

// noContentPlaceholder is the literal some clients send for an intentionally
// empty turn; such messages are dropped from the envelope.
const noContentPlaceholder = "(no content)"

// Options carries per-request envelope parameters. Zero-value identifier
// fields are filled with generated values.
type Options struct {
	ProjectID   string
	SessionID   string
	RequestID   string
	Temperature *float64
	MaxTokens   int
}

// Adapter builds a provider envelope from a canonical message list.
type Adapter interface {
	BuildEnvelope(messages []store.Message, model string, opts Options) ([]byte, error)
}

// shortID returns a 16 character random identifier.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// buildContents converts canonical messages to the Gemini-style contents
// array shared by both variants, returning the array as JSON plus the
// newline-joined system text. Empty and placeholder turns are filtered out;
// image parts survive only in data-URI form.
func buildContents(messages []store.Message) (contentsJSON string, systemText string) {
	contents := "[]"
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case store.RoleSystem:
			if text := msg.Content.AsText(); text != "" {
				systemParts = append(systemParts, text)
			}
		case store.RoleUser:
			if msg.Content.IsMultimodal() {
				entry := buildMultimodalEntry(msg.Content.Parts())
				if entry != "" {
					contents, _ = sjson.SetRaw(contents, "-1", entry)
				}
				continue
			}
			if entry := buildTextEntry("user", msg.Content.AsText()); entry != "" {
				contents, _ = sjson.SetRaw(contents, "-1", entry)
			}
		case store.RoleAssistant:
			if entry := buildTextEntry("model", msg.Content.AsText()); entry != "" {
				contents, _ = sjson.SetRaw(contents, "-1", entry)
			}
		}
	}

	return contents, strings.TrimSpace(strings.Join(systemParts, "\n\n"))
}

func buildTextEntry(role, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || text == noContentPlaceholder {
		return ""
	}
	entry, _ := sjson.Set(`{}`, "role", role)
	entry, _ = sjson.Set(entry, "parts.0.text", text)
	return entry
}

func buildMultimodalEntry(parts []store.ContentPart) string {
	entry, _ := sjson.Set(`{}`, "role", "user")
	count := 0
	for _, part := range parts {
		switch part.Type {
		case store.PartTypeText:
			if part.Text == "" {
				continue
			}
			entry, _ = sjson.Set(entry, "parts.-1.text", part.Text)
			count++
		case store.PartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			mimeType, data, ok := splitDataURI(part.ImageURL.URL)
			if !ok {
				continue
			}
			inline := `{}`
			inline, _ = sjson.Set(inline, "inlineData.mimeType", mimeType)
			inline, _ = sjson.Set(inline, "inlineData.data", data)
			entry, _ = sjson.SetRaw(entry, "parts.-1", inline)
			count++
		}
	}
	if count == 0 {
		return ""
	}
	return entry
}

// splitDataURI dissects "data:<mime>;base64,<data>" URLs. Anything else is
// rejected; remote image URLs are unsupported upstream.
func splitDataURI(url string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	head, payload, found := strings.Cut(url, ";base64,")
	if !found {
		return "", "", false
	}
	mimeType = strings.TrimPrefix(head, "data:")
	if mimeType == "" || payload == "" {
		return "", "", false
	}
	return mimeType, payload, true
}

// systemInstructionJSON wraps system text in the upstream's instruction
// shape. Both providers expect the user role here.
func systemInstructionJSON(text string) string {
	instruction, _ := sjson.Set(`{}`, "role", "user")
	instruction, _ = sjson.Set(instruction, "parts.0.text", text)
	return instruction
}
