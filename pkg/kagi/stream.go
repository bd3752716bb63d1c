package kagi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/lkarlslund/kagi-proxy/pkg/session"
)

type SignalKind int

const (
	// SignalToken carries an incremental text fragment.
	SignalToken SignalKind = iota + 1
	// SignalFinal carries the complete reply text.
	SignalFinal
	// SignalDone ends a successful stream. Thread cleanup has already been
	// attempted when it is delivered.
	SignalDone
	// SignalError ends a failed stream.
	SignalError
)

func (k SignalKind) String() string {
	switch k {
	case SignalToken:
		return "token"
	case SignalFinal:
		return "final"
	case SignalDone:
		return "done"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

type Signal struct {
	Kind SignalKind
	Text string
	Err  error
}

// Message renders an error signal the way it is shown to API callers.
func (s Signal) Message() string {
	if s.Err == nil {
		return s.Text
	}
	return s.Err.Error()
}

const maxFrameSize = 16 << 20

type streamState int

const (
	stateIdle streamState = iota
	stateReading
	stateFinished
)

// Stream is a single-use pull sequence of signals for one prompt. It is not
// safe for concurrent use. Every stream ends with exactly one SignalDone or
// SignalError, after which Next reports false.
type Stream struct {
	client *Client
	ctx    context.Context
	prompt string
	model  string

	state    streamState
	token    string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	threadID string

	closeOnce sync.Once
}

// Next returns the next signal. The request is sent on the first call.
func (s *Stream) Next() (Signal, bool) {
	switch s.state {
	case stateFinished:
		return Signal{}, false
	case stateIdle:
		s.state = stateReading
		if err := s.open(); err != nil {
			return s.fail(err), true
		}
	}

	for s.scanner.Scan() {
		ev, err := ParseFrame(s.scanner.Bytes())
		if err != nil {
			return s.fail(err), true
		}
		if ev == nil {
			continue
		}
		switch ev.Kind {
		case KindThreadJSON:
			if id := ev.Field("id"); id != "" {
				s.threadID = id
			}
		case KindNewMessageJSON:
			if ev.State == "done" {
				return s.emit(Signal{Kind: SignalFinal, Text: ev.Reply}), true
			}
		case KindTokensJSON:
			return s.emit(Signal{Kind: SignalToken, Text: ev.Text}), true
		}
	}
	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return s.fail(&ProtocolError{Tag: "frame", Payload: "<oversized>", Err: err}), true
		}
		return s.fail(&TransportError{Op: "prompt", Err: err}), true
	}

	s.Close()
	if s.threadID != "" {
		s.client.deleteThread(s.ctx, s.token, s.threadID)
	}
	return s.emit(Signal{Kind: SignalDone}), true
}

// Close releases the upstream response. It is safe to call at any time and
// more than once; an unfinished stream simply stops producing signals.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.body != nil {
			err = s.body.Close()
		}
	})
	s.state = stateFinished
	return err
}

// ThreadID is the upstream thread created by this prompt, once known.
func (s *Stream) ThreadID() string {
	return s.threadID
}

func (s *Stream) open() error {
	c := s.client
	cred, err := c.store.Get()
	if err != nil {
		return err
	}
	// The cleanup call later uses this copy even if the store rotates.
	s.token = cred.Token

	req, err := c.newRequest(s.ctx, http.MethodPost, promptPath, newPromptRequest(s.prompt, s.model), cred.Token)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", streamAccept)
	resp, err := c.do(req, "prompt")
	if err != nil {
		return err
	}
	s.body = resp.Body
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	return nil
}

func (s *Stream) emit(sig Signal) Signal {
	s.client.metrics.Signal(sig.Kind.String())
	return sig
}

func (s *Stream) fail(err error) Signal {
	if errors.Is(err, session.ErrUnconfigured) {
		s.client.logger.Warn("prompt rejected", "err", err)
	} else {
		s.client.logger.Error("upstream stream failed", "err", err)
	}
	s.Close()
	return s.emit(Signal{Kind: SignalError, Err: err})
}
