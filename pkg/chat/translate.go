package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	openai "github.com/sashabaranov/go-openai"
)

// SignalSource is a pull sequence of upstream signals. *kagi.Stream
// implements it.
type SignalSource interface {
	Next() (kagi.Signal, bool)
	Close() error
}

type chunkState int

const (
	chunkStart chunkState = iota
	chunkStreaming
	chunkSentinel
	chunkFinished
)

// ChunkStream translates a signal source into client chunks. It always
// starts with a role chunk and always ends with either an error chunk or a
// stop chunk followed by the [DONE] sentinel.
type ChunkStream struct {
	src   SignalSource
	model string
	id    string
	now   func() time.Time

	state   chunkState
	content strings.Builder
}

// NewChunkStream wraps src. model is echoed verbatim in every chunk.
func NewChunkStream(src SignalSource, model string) *ChunkStream {
	return &ChunkStream{src: src, model: model, id: NewCompletionID(), now: time.Now}
}

func (s *ChunkStream) Next() (Chunk, bool) {
	switch s.state {
	case chunkFinished:
		return Chunk{}, false
	case chunkStart:
		s.state = chunkStreaming
		return s.completion(Delta{Role: openai.ChatMessageRoleAssistant, Content: ptr("")}, "", nil), true
	case chunkSentinel:
		s.finish()
		return Chunk{Done: true}, true
	}

	for {
		sig, ok := s.src.Next()
		if !ok {
			return s.stop(), true
		}
		switch sig.Kind {
		case kagi.SignalToken:
			s.content.WriteString(sig.Text)
			return s.delta(sig.Text), true
		case kagi.SignalFinal:
			acc := s.content.String()
			if len(sig.Text) > len(acc) && strings.HasPrefix(sig.Text, acc) {
				missing := sig.Text[len(acc):]
				s.content.WriteString(missing)
				return s.delta(missing), true
			}
		case kagi.SignalDone:
			return s.stop(), true
		case kagi.SignalError:
			s.finish()
			f := Classify(signalErr(sig))
			body := ErrorBody(f.Message, TypeAPIError, f.Code)
			return Chunk{Error: &body}, true
		}
	}
}

// Close stops the stream and releases the upstream.
func (s *ChunkStream) Close() error {
	if s.state == chunkFinished {
		return nil
	}
	s.state = chunkFinished
	return s.src.Close()
}

// FullContent is the text delivered to the client so far.
func (s *ChunkStream) FullContent() string {
	return s.content.String()
}

func (s *ChunkStream) ID() string {
	return s.id
}

func (s *ChunkStream) delta(text string) Chunk {
	return s.completion(Delta{Content: ptr(text)}, "", nil)
}

func (s *ChunkStream) stop() Chunk {
	s.state = chunkSentinel
	_ = s.src.Close()
	usage := UnknownUsage
	return s.completion(Delta{}, openai.FinishReasonStop, &usage)
}

func (s *ChunkStream) finish() {
	s.state = chunkFinished
	_ = s.src.Close()
}

func (s *ChunkStream) completion(d Delta, finish openai.FinishReason, usage *openai.Usage) Chunk {
	return Chunk{Completion: &Completion{
		ID:      s.id,
		Object:  objectChunk,
		Created: unixNow(s.now),
		Model:   s.model,
		Choices: []Choice{{Index: 0, Delta: d, FinishReason: finish}},
		Usage:   usage,
	}}
}

// Aggregate drains src into one chat completion. Tokens are concatenated and
// a final reply replaces them. Any error signal fails the whole request, even
// after content has arrived.
func Aggregate(src SignalSource, model string) (openai.ChatCompletionResponse, error) {
	defer src.Close()

	var (
		tokens   strings.Builder
		final    string
		hasFinal bool
	)
loop:
	for {
		sig, ok := src.Next()
		if !ok {
			break
		}
		switch sig.Kind {
		case kagi.SignalToken:
			tokens.WriteString(sig.Text)
		case kagi.SignalFinal:
			final, hasFinal = sig.Text, true
		case kagi.SignalDone:
			break loop
		case kagi.SignalError:
			return openai.ChatCompletionResponse{}, signalErr(sig)
		}
	}

	content := tokens.String()
	if hasFinal {
		content = final
	}
	return openai.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  objectCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: UnknownUsage,
	}, nil
}

func signalErr(sig kagi.Signal) error {
	if sig.Err != nil {
		return sig.Err
	}
	if sig.Text != "" {
		return errors.New(sig.Text)
	}
	return errors.New("upstream stream failed")
}

func ptr[T any](v T) *T {
	return &v
}
