// Package store implements the conversation tree model backing ChatFlow:
// sessions, chat nodes, branch edges and highlights, together with the
// mutation operations that keep the tree invariants intact. A session holds
// one rooted conversation tree; the active session's nodes and edges are
// checked out into a live working set and written back on every mutation and
// on session switch.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles accepted by the chat model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentPart is one element of a multimodal message: either a text span or
// an image reference (data URI or remote URL).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image location inside a ContentPart.
type ImageURL struct {
	URL string `json:"url"`
}

// Content part type discriminators.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// MessageContent is a tagged variant holding either plain text or an ordered
// sequence of content parts. On the wire it is either a JSON string or a
// JSON array, matching the OpenAI message content shape.
type MessageContent struct {
	text  string
	parts []ContentPart
	multi bool
}

// TextContent returns a plain-text content value.
func TextContent(s string) MessageContent {
	return MessageContent{text: s}
}

// PartsContent returns a multimodal content value.
func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{parts: parts, multi: true}
}

// IsMultimodal reports whether the content is a sequence of parts rather
// than plain text.
func (c MessageContent) IsMultimodal() bool {
	return c.multi
}

// Parts returns the content parts when the content is multimodal.
func (c MessageContent) Parts() []ContentPart {
	return c.parts
}

// AsText flattens the content to plain text. Multimodal content yields the
// concatenation of its text parts, ignoring images.
func (c MessageContent) AsText() string {
	if !c.multi {
		return c.text
	}
	var sb strings.Builder
	for _, part := range c.parts {
		if part.Type == PartTypeText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// IsEmpty reports whether the content carries no text and no parts.
func (c MessageContent) IsEmpty() bool {
	if c.multi {
		return len(c.parts) == 0
	}
	return c.text == ""
}

// MarshalJSON encodes text content as a JSON string and multimodal content
// as a JSON array of parts.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.multi {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("unmarshal content parts: %w", err)
		}
		*c = PartsContent(parts)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("unmarshal content text: %w", err)
	}
	*c = TextContent(text)
	return nil
}

// Message is a single chat turn.
type Message struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// BranchHighlight marks that a span of text inside a parent node's message
// was branched into a child node. Highlights live on the parent node so its
// renderer can show the origin of each branch.
type BranchHighlight struct {
	Text         string `json:"text"`
	BranchNodeID string `json:"branchNodeId"`
	MessageID    string `json:"messageId"`
}

// Position is a node's canvas location. It matters only to layout, never to
// tree logic.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries one branch's conversation state.
type NodeData struct {
	Messages         []Message         `json:"messages"`
	Reference        string            `json:"reference,omitempty"`
	Highlights       []BranchHighlight `json:"highlights,omitempty"`
	PendingAIRequest bool              `json:"pendingAiRequest,omitempty"`
	IsLoading        bool              `json:"isLoading,omitempty"`
}

// ChatNode is one branch of a session's conversation tree.
type ChatNode struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Edge is a directed parent-to-child link between two nodes. A node may have
// any number of outgoing edges but at most one incoming edge.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Session is one complete conversation tree. Exactly one node, rootNodeId,
// has no incoming edge.
type Session struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	CreatedAt  int64      `json:"createdAt"`
	UpdatedAt  int64      `json:"updatedAt"`
	Nodes      []ChatNode `json:"nodes"`
	Edges      []Edge     `json:"edges"`
	RootNodeID string     `json:"rootNodeId"`
}

// ProviderModel describes one selectable model of a provider.
type ProviderModel struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	IsMultimodal bool   `json:"isMultimodal,omitempty"`
}

// ProviderConfig holds per-provider persisted settings, keyed by provider id
// (openai, openrouter, anthropic, gemini, antigravity, ollama, custom).
type ProviderConfig struct {
	APIKey          string          `json:"apiKey"`
	BaseURL         string          `json:"baseUrl"`
	Models          []ProviderModel `json:"models"`
	SelectedModelID string          `json:"selectedModelId,omitempty"`
}

// StorageSettings holds the S3-compatible credentials used for session sync.
type StorageSettings struct {
	Endpoint        string `json:"endpoint"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}
