package kagi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind identifies the upstream frame type. The zero value is never returned
// by ParseFrame; unrecognized frames produce no event at all.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindHello
	KindThreadListHTML
	KindThreadHTML
	KindThreadListJSON
	KindThreadJSON
	KindMessagesJSON
	KindNewMessageJSON
	KindTokensJSON
)

var kindTags = map[string]Kind{
	"hi":               KindHello,
	"thread_list.html": KindThreadListHTML,
	"thread.html":      KindThreadHTML,
	"thread_list.json": KindThreadListJSON,
	"thread.json":      KindThreadJSON,
	"messages.json":    KindMessagesJSON,
	"new_message.json": KindNewMessageJSON,
	"tokens.json":      KindTokensJSON,
}

func (k Kind) String() string {
	for tag, kind := range kindTags {
		if kind == k {
			return tag
		}
	}
	return "unrecognized"
}

func (k Kind) IsHTML() bool {
	return k == KindThreadListHTML || k == KindThreadHTML
}

// Event is one decoded upstream frame.
type Event struct {
	Kind Kind
	Tag  string

	// HTML holds the verbatim payload of HTML frames.
	HTML string
	// Payload holds the decoded JSON of every other frame.
	Payload any

	Trace string

	// new_message.json
	State    string
	Reply    string
	Markdown string

	// tokens.json
	Text string
	ID   string
}

// Field returns a top-level string field of a JSON object payload.
func (e *Event) Field(name string) string {
	if e == nil {
		return ""
	}
	obj, ok := e.Payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[name].(string)
	return s
}

// ParseFrame decodes one raw upstream line. It returns nil, nil for empty
// frames, frames without a tag and tags outside the known set. A known JSON
// tag with an undecodable payload returns a *ProtocolError.
func ParseFrame(frame []byte) (*Event, error) {
	frame = bytes.TrimRight(frame, "\x00\r\n")
	if len(frame) == 0 {
		return nil, nil
	}
	tag, payload, ok := strings.Cut(string(frame), ":")
	if !ok {
		return nil, nil
	}
	kind, ok := kindTags[tag]
	if !ok {
		return nil, nil
	}

	ev := &Event{Kind: kind, Tag: tag}
	if kind.IsHTML() {
		ev.HTML = payload
		return ev, nil
	}

	var data any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, &ProtocolError{Tag: tag, Payload: payload, Err: err}
	}
	ev.Payload = data

	switch kind {
	case KindHello:
		ev.Trace = ev.Field("trace")
	case KindNewMessageJSON:
		ev.State = ev.Field("state")
		ev.Reply = ev.Field("reply")
		ev.Markdown = ev.Field("md")
	case KindTokensJSON:
		ev.Text = ev.Field("text")
		ev.ID = ev.Field("id")
	case KindThreadListJSON, KindThreadJSON, KindMessagesJSON:
	case KindUnrecognized, KindThreadListHTML, KindThreadHTML:
		return nil, nil
	}
	return ev, nil
}
