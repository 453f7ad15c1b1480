package answer

import "encoding/json"

// chatCompletionRequest is the wire request to the chat completions endpoint.
type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatCompletionResponse is the wire response from chat completions.
type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ContentPart represents a single part in a multimodal message content array.
//
// Images use type "image_url" with a data URI.
type ContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *ContentPartImage `json:"image_url,omitempty"`
}

// ContentPartImage holds a data URI for an image attachment.
// URL is a data URI: "data:{mime};base64,{data}"
type ContentPartImage struct {
	URL string `json:"url"`
}

// Message represents a message in a chat completion.
// Content is json.RawMessage so it can serialize as either a plain string
// (for text-only) or a []ContentPart array (for multimodal).
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NewTextMessage creates a Message with plain text content (serialized as a JSON string).
func NewTextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

// NewMultimodalMessage creates a Message with a content parts array (text + attachments).
func NewMultimodalMessage(role, text string, attachments []ContentPart) Message {
	parts := make([]ContentPart, 0, 1+len(attachments))
	parts = append(parts, ContentPart{Type: "text", Text: text})
	parts = append(parts, attachments...)
	raw, _ := json.Marshal(parts)
	return Message{Role: role, Content: raw}
}

// TextContent extracts the plain text from Content.
// LLM responses are always plain strings; this unmarshals back from json.RawMessage.
func (m Message) TextContent() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return string(m.Content)
	}
	return s
}
