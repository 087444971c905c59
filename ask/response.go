package ask

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/echokit/echokit/streamcache"
)

// Play directive behaviors on the wire.
const (
	behaviorReplaceAll      = "REPLACE_ALL"
	behaviorEnqueue         = "ENQUEUE"
	behaviorReplaceEnqueued = "REPLACE_ENQUEUED"
)

// Response accumulates a handler's reply and is rendered to the wire
// envelope exactly once, after the handler returns.
type Response struct {
	speech      string
	card        map[string]any
	reprompt    string
	hasReprompt bool
	endSession  *bool
	directives  []directiveSpec

	// builtin short-circuits rendering with a fixed body, used for the
	// default session-ended reply.
	builtin json.RawMessage
}

// directiveSpec records a directive to emit; stream tokens and offsets
// are resolved against the stream cache at render time.
type directiveSpec struct {
	kind          string // "play", "stop", "clearQueue"
	playBehavior  string
	clearBehavior string
	url           string
	offset        int64
	opaqueToken   string
}

// Statement builds a reply that speaks and ends the session.
func Statement(speech string) *Response {
	end := true
	return &Response{speech: speech, endSession: &end}
}

// Question builds a reply that speaks and keeps the session open for a
// follow-up utterance.
func Question(speech string) *Response {
	end := false
	return &Response{speech: speech, endSession: &end}
}

// Audio builds a reply carrying audio-player directives, with optional
// speech. Responses to playback lifecycle events must not speak; pass an
// empty string there.
func Audio(speech string) *Response {
	return &Response{speech: speech, directives: []directiveSpec{}}
}

// Reprompt adds reprompt speech, played when the user stays silent after
// a question.
func (r *Response) Reprompt(speech string) *Response {
	r.reprompt = speech
	r.hasReprompt = true
	return r
}

// SimpleCard attaches a title/content companion-app card.
func (r *Response) SimpleCard(title, content string) *Response {
	r.card = map[string]any{"type": "Simple", "title": title, "content": content}
	return r
}

// StandardCard attaches a card with text and optional images. Empty
// image URLs are omitted from the wire form.
func (r *Response) StandardCard(title, text, smallImageURL, largeImageURL string) *Response {
	card := map[string]any{"type": "Standard", "title": title, "text": text}
	if smallImageURL != "" || largeImageURL != "" {
		image := map[string]any{}
		if smallImageURL != "" {
			image["smallImageUrl"] = smallImageURL
		}
		if largeImageURL != "" {
			image["largeImageUrl"] = largeImageURL
		}
		card["image"] = image
	}
	r.card = card
	return r
}

// LinkAccountCard attaches the account-linking card.
func (r *Response) LinkAccountCard() *Response {
	r.card = map[string]any{"type": "LinkAccount"}
	return r
}

// ConsentCard attaches a permissions-consent card requesting the given
// permission scopes.
func (r *Response) ConsentCard(permissions ...string) *Response {
	r.card = map[string]any{"type": "AskForPermissionsConsent", "permissions": permissions}
	return r
}

// PlayOption adjusts a play-family directive.
type PlayOption func(*directiveSpec)

// Offset starts playback at the given millisecond position.
func Offset(ms int64) PlayOption {
	return func(d *directiveSpec) { d.offset = ms }
}

// OpaqueToken pins the stream token instead of minting a fresh one,
// letting callers correlate playback events with their own ids.
func OpaqueToken(token string) PlayOption {
	return func(d *directiveSpec) { d.opaqueToken = token }
}

// Play begins playback of streamURL, replacing the current stream and
// queue, and ends the session.
func (r *Response) Play(streamURL string, opts ...PlayOption) *Response {
	end := true
	r.endSession = &end
	r.addPlay(behaviorReplaceAll, streamURL, opts)
	return r
}

// Enqueue appends streamURL to the device queue without interrupting the
// current stream.
func (r *Response) Enqueue(streamURL string, opts ...PlayOption) *Response {
	r.addPlay(behaviorEnqueue, streamURL, opts)
	return r
}

// PlayNext replaces all queued streams with streamURL, leaving the
// current stream playing.
func (r *Response) PlayNext(streamURL string, opts ...PlayOption) *Response {
	r.addPlay(behaviorReplaceEnqueued, streamURL, opts)
	return r
}

// Resume restarts the cached current stream at its stored offset.
func (r *Response) Resume() *Response {
	r.addPlay(behaviorReplaceAll, "", nil)
	return r
}

// Stop halts playback of the current stream.
func (r *Response) Stop() *Response {
	r.directives = append(r.directives, directiveSpec{kind: "stop"})
	return r
}

// ClearQueue drops queued streams; with stopAll it also stops the
// current stream.
func (r *Response) ClearQueue(stopAll bool) *Response {
	behavior := "CLEAR_ENQUEUED"
	if stopAll {
		behavior = "CLEAR_ALL"
	}
	r.directives = append(r.directives, directiveSpec{kind: "clearQueue", clearBehavior: behavior})
	return r
}

func (r *Response) addPlay(behavior, streamURL string, opts []PlayOption) {
	spec := directiveSpec{kind: "play", playBehavior: behavior, url: streamURL}
	for _, opt := range opts {
		opt(&spec)
	}
	r.directives = append(r.directives, spec)
}

// render serializes the response to the wire envelope, resolving
// directive streams against the cache and echoing session attributes.
func (r *Response) render(rc *ReqContext) ([]byte, error) {
	body := map[string]any{
		"outputSpeech": outputSpeech(r.speech),
	}
	if r.endSession != nil {
		body["shouldEndSession"] = *r.endSession
	}
	if r.card != nil {
		body["card"] = r.card
	}
	if r.hasReprompt {
		body["reprompt"] = map[string]any{"outputSpeech": outputSpeech(r.reprompt)}
	}
	if r.directives != nil {
		directives := make([]map[string]any, 0, len(r.directives))
		for _, spec := range r.directives {
			d, err := resolveDirective(rc, spec)
			if err != nil {
				return nil, err
			}
			directives = append(directives, d)
		}
		body["directives"] = directives
	}

	attrs, err := rc.encodeAttributes()
	if err != nil {
		return nil, fmt.Errorf("ask: encode session attributes: %w", err)
	}

	wrapper := map[string]any{
		"version":           "1.0",
		"response":          body,
		"sessionAttributes": attrs,
	}
	return json.Marshal(wrapper)
}

// resolveDirective turns a recorded directive into its wire object. Play
// directives for a fresh URL mint a token (unless the caller pinned one)
// and replace the cached stream; resume and enqueue reuse the cached
// token and offset, and the emitted descriptor is pushed so the next
// request sees it as current.
func resolveDirective(rc *ReqContext, spec directiveSpec) (map[string]any, error) {
	switch spec.kind {
	case "stop":
		return map[string]any{"type": "AudioPlayer.Stop"}, nil
	case "clearQueue":
		return map[string]any{"type": "AudioPlayer.ClearQueue", "clearBehavior": spec.clearBehavior}, nil
	}

	current := rc.CurrentStream()
	stream := streamcache.Stream{}
	if spec.url != "" {
		stream.URL = spec.url
		stream.OffsetInMilliseconds = spec.offset
		stream.Token = spec.opaqueToken
		if stream.Token == "" {
			stream.Token = uuid.NewString()
		}
	} else {
		// No URL means continue the existing stream.
		stream = current
		stream.ExpectedPreviousToken = ""
	}
	if spec.playBehavior == behaviorEnqueue {
		stream.ExpectedPreviousToken = current.Token
	}

	if err := rc.storeStream(stream, spec.playBehavior == behaviorReplaceAll && spec.url != ""); err != nil {
		return nil, err
	}

	streamObj := map[string]any{
		"url":                  stream.URL,
		"token":                stream.Token,
		"offsetInMilliseconds": stream.OffsetInMilliseconds,
	}
	if stream.ExpectedPreviousToken != "" {
		streamObj["expectedPreviousToken"] = stream.ExpectedPreviousToken
	}
	return map[string]any{
		"type":         "AudioPlayer.Play",
		"playBehavior": spec.playBehavior,
		"audioItem":    map[string]any{"stream": streamObj},
	}, nil
}

// outputSpeech sniffs the speech kind structurally: well-formed markup
// rooted at <speak> is SSML, anything else is plain text.
func outputSpeech(speech string) map[string]any {
	if root, ok := xmlRoot(speech); ok && root == "speak" {
		return map[string]any{"type": "SSML", "ssml": speech}
	}
	return map[string]any{"type": "PlainText", "text": speech}
}

// xmlRoot returns the root element name if s is a well-formed document.
func xmlRoot(s string) (string, bool) {
	if !strings.Contains(s, "<") {
		return "", false
	}
	decoder := xml.NewDecoder(strings.NewReader(s))
	root := ""
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return root, root != ""
		}
		if err != nil {
			return "", false
		}
		if start, ok := tok.(xml.StartElement); ok && root == "" {
			root = start.Name.Local
		}
	}
}
