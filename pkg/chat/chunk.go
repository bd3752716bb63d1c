// Package chat turns upstream signals into OpenAI chat completion output,
// either as a stream of chunks or as one aggregated response.
package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const (
	objectChunk      = "chat.completion.chunk"
	objectCompletion = "chat.completion"
)

var doneFrame = []byte("data: [DONE]\n\n")

// UnknownUsage is reported wherever token counts would go. The upstream has
// no token accounting, so every counter is -1 rather than a fake zero.
var UnknownUsage = openai.Usage{PromptTokens: -1, CompletionTokens: -1, TotalTokens: -1}

type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

type Choice struct {
	Index        int                 `json:"index"`
	Delta        Delta               `json:"delta"`
	FinishReason openai.FinishReason `json:"finish_reason"`
}

// Completion is one chat.completion.chunk object.
type Completion struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []Choice      `json:"choices"`
	Usage   *openai.Usage `json:"usage,omitempty"`
}

// Chunk is one unit of the client stream: a completion chunk, an error
// object, or the [DONE] sentinel.
type Chunk struct {
	Completion *Completion
	Error      *openai.ErrorResponse
	Done       bool
}

func (c Chunk) IsRole() bool {
	return c.Completion != nil && len(c.Completion.Choices) == 1 && c.Completion.Choices[0].Delta.Role != ""
}

func (c Chunk) IsStop() bool {
	return c.Completion != nil && len(c.Completion.Choices) == 1 && c.Completion.Choices[0].FinishReason == openai.FinishReasonStop
}

// Text returns the content delta carried by the chunk, if any.
func (c Chunk) Text() string {
	if c.Completion == nil || len(c.Completion.Choices) != 1 || c.Completion.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Completion.Choices[0].Delta.Content
}

// MarshalSSE renders the chunk as one server-sent event.
func (c Chunk) MarshalSSE() ([]byte, error) {
	if c.Done {
		return doneFrame, nil
	}
	var payload any = c.Completion
	if c.Error != nil {
		payload = c.Error
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, '\n', '\n')
	return out, nil
}

// NewCompletionID returns an id in the chatcmpl-<8 hex> form.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()[:8]
}

func unixNow(now func() time.Time) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}
