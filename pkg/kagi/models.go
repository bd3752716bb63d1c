package kagi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhtml "html"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Profile is one assistant model profile as the web UI lists it.
type Profile struct {
	ID            string `json:"id,omitempty"`
	Model         string `json:"model"`
	ModelProvider string `json:"model_provider"`
	ModelName     string `json:"model_name"`
	Accessible    bool   `json:"accessible"`
}

type profileList struct {
	Profiles []Profile `json:"profiles"`
}

// ProfileSource selects how the model profiles are discovered.
type ProfileSource string

const (
	// SourcePage scrapes the profile list embedded in the assistant page.
	SourcePage ProfileSource = "page"
	// SourceProfileList asks the profile_list stream endpoint.
	SourceProfileList ProfileSource = "profile_list"
)

var errProfileListMissing = errors.New("json-profile-list element not found in assistant page")

func (c *Client) Profiles(ctx context.Context, source ProfileSource) ([]Profile, error) {
	switch source {
	case SourceProfileList:
		return c.ProfilesFromStream(ctx)
	case SourcePage, "":
		return c.ProfilesFromPage(ctx)
	default:
		return nil, fmt.Errorf("unknown profile source %q", source)
	}
}

// ProfilesFromPage loads the assistant page and decodes the profile JSON the
// page embeds for its model picker.
func (c *Client) ProfilesFromPage(ctx context.Context) ([]Profile, error) {
	cred, err := c.store.Get()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, assistantPath, nil, cred.Token)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "assistant_page")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := profileJSONFromPage(resp.Body)
	if err != nil {
		return nil, err
	}
	var list profileList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, &ProtocolError{Tag: "json-profile-list", Payload: raw, Err: err}
	}
	return list.Profiles, nil
}

// ProfilesFromStream asks the profile_list endpoint, which answers in the
// same tagged frame format as prompts.
func (c *Client) ProfilesFromStream(ctx context.Context) ([]Profile, error) {
	cred, err := c.store.Get()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, profileListPath, struct{}{}, cred.Token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", streamAccept)
	resp, err := c.do(req, "profile_list")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\x00\r\n")
		payload, ok := bytes.CutPrefix(line, []byte("profiles.json:"))
		if !ok {
			continue
		}
		var list profileList
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, &ProtocolError{Tag: "profiles.json", Payload: string(payload), Err: err}
		}
		return list.Profiles, nil
	}
	if err := sc.Err(); err != nil {
		return nil, &TransportError{Op: "profile_list", Err: err}
	}
	return nil, &ProtocolError{Tag: "profiles.json", Err: errors.New("frame missing from response")}
}

// profileJSONFromPage returns the text content of div#json-profile-list. The
// content is entity-escaped once more on top of normal HTML text escaping.
func profileJSONFromPage(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", &TransportError{Op: "assistant_page", Err: err}
	}
	node := findByID(doc, atom.Div, "json-profile-list")
	if node == nil {
		return "", errProfileListMissing
	}
	var sb strings.Builder
	collectText(node, &sb)
	return stdhtml.UnescapeString(sb.String()), nil
}

func findByID(n *html.Node, tag atom.Atom, id string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == tag {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, tag, id); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}
