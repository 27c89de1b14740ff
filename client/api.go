// Package client is the HTTP consumer of the flume gateway. It posts a chat
// request and streams the raw wire-protocol response back through a callback;
// parsing is the caller's job (see the wire package).
//
// The package also owns the gateway's JSON request/response shapes, so the
// server and client agree on one definition.
package client

import (
	"fmt"

	"github.com/flumechat/flume"
)

// ChatRequest is the JSON body of POST /v1/chat.
type ChatRequest struct {
	ThreadID string    `json:"threadId,omitempty"`
	Model    string    `json:"model,omitempty"`
	Stream   bool      `json:"stream"`
	Messages []Message `json:"messages"`
}

// Message is one conversation message on the wire.
type Message struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`
}

// Block is one content block on the wire. Type selects which fields apply:
// "text" uses Text; "image", "file" and "audio" use Data (base64 via
// encoding/json's []byte handling), MimeType and, for file/audio, Filename.
type Block struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// errorResponse is the JSON body of non-200 responses.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromMessages converts domain messages to their wire form.
func FromMessages(msgs []flume.Message) []Message {
	result := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		switch m := msg.(type) {
		case flume.UserMessage:
			result = append(result, Message{Role: "user", Content: fromBlocks(m.Content)})
		case flume.AssistantMessage:
			result = append(result, Message{Role: "assistant", Content: fromBlocks(m.Content)})
		}
	}
	return result
}

func fromBlocks(blocks []flume.ContentBlock) []Block {
	result := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		switch bl := b.(type) {
		case flume.TextBlock:
			result = append(result, Block{Type: "text", Text: bl.Text})
		case flume.ImageBlock:
			result = append(result, Block{Type: "image", Data: bl.Data, MimeType: bl.MimeType})
		case flume.FileBlock:
			result = append(result, Block{Type: "file", Filename: bl.Filename, Data: bl.Data, MimeType: bl.MimeType})
		case flume.AudioBlock:
			result = append(result, Block{Type: "audio", Filename: bl.Filename, Data: bl.Data, MimeType: bl.MimeType})
		}
	}
	return result
}

// ToMessages converts wire messages back to domain messages.
func ToMessages(msgs []Message) ([]flume.Message, error) {
	result := make([]flume.Message, 0, len(msgs))
	for i, m := range msgs {
		blocks, err := toBlocks(m.Content)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		switch m.Role {
		case "user":
			result = append(result, flume.UserMessage{Content: blocks})
		case "assistant":
			result = append(result, flume.AssistantMessage{Content: blocks})
		default:
			return nil, fmt.Errorf("message %d: unknown role %q: %w", i, m.Role, flume.ErrValidation)
		}
	}
	return result, nil
}

func toBlocks(blocks []Block) ([]flume.ContentBlock, error) {
	result := make([]flume.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			result = append(result, flume.TextBlock{Text: b.Text})
		case "image":
			result = append(result, flume.ImageBlock{Data: b.Data, MimeType: b.MimeType})
		case "file":
			result = append(result, flume.FileBlock{Filename: b.Filename, Data: b.Data, MimeType: b.MimeType})
		case "audio":
			result = append(result, flume.AudioBlock{Filename: b.Filename, Data: b.Data, MimeType: b.MimeType})
		default:
			return nil, fmt.Errorf("unknown block type %q: %w", b.Type, flume.ErrValidation)
		}
	}
	return result, nil
}
