package ask

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEnvelope indicates a request body that cannot be serviced
// because a required envelope field is missing or unreadable.
var ErrMalformedEnvelope = errors.New("ask: malformed request envelope")

// Request type names as they appear on the wire.
const (
	TypeLaunch       = "LaunchRequest"
	TypeIntent       = "IntentRequest"
	TypeSessionEnded = "SessionEndedRequest"

	TypePlaybackStarted        = "AudioPlayer.PlaybackStarted"
	TypePlaybackFinished       = "AudioPlayer.PlaybackFinished"
	TypePlaybackStopped        = "AudioPlayer.PlaybackStopped"
	TypePlaybackNearlyFinished = "AudioPlayer.PlaybackNearlyFinished"
	TypePlaybackFailed         = "AudioPlayer.PlaybackFailed"
)

// Envelope is the parsed form of one inbound webhook payload.
type Envelope struct {
	Version string
	Session *Session
	Context *RequestContext
	Request Request

	raw json.RawMessage
}

// Raw returns the undecoded envelope body, preserving fields this
// package does not model.
func (e *Envelope) Raw() json.RawMessage { return e.raw }

// Application identifies the skill the platform believes it is calling.
type Application struct {
	ApplicationID string `json:"applicationId"`
}

// User identifies the device owner.
type User struct {
	UserID      string          `json:"userId"`
	AccessToken string          `json:"accessToken,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
}

// Session is the per-conversation state echoed between turns. Mid-playback
// audio events omit it entirely, in which case an empty session with a
// usable Attributes map is substituted.
type Session struct {
	SessionID   string         `json:"sessionId"`
	New         bool           `json:"new"`
	Application Application    `json:"application"`
	User        User           `json:"user"`
	Attributes  map[string]any `json:"attributes"`
}

// RequestContext is the device/system snapshot sent alongside the request.
type RequestContext struct {
	System      System            `json:"System"`
	AudioPlayer *AudioPlayerState `json:"AudioPlayer,omitempty"`

	raw json.RawMessage
}

// Raw returns the undecoded context object.
func (c *RequestContext) Raw() json.RawMessage { return c.raw }

// System carries application, user, and device identity for the request.
type System struct {
	Application    Application     `json:"application"`
	User           User            `json:"user"`
	Device         json.RawMessage `json:"device,omitempty"`
	APIEndpoint    string          `json:"apiEndpoint,omitempty"`
	APIAccessToken string          `json:"apiAccessToken,omitempty"`
}

// AudioPlayerState is a partial view of a stream: pointer fields so a
// snapshot only overwrites what it actually carries when merged into the
// cached stream descriptor.
type AudioPlayerState struct {
	Token                *string `json:"token,omitempty"`
	URL                  *string `json:"url,omitempty"`
	OffsetInMilliseconds *int64  `json:"offsetInMilliseconds,omitempty"`
	PlayerActivity       *string `json:"playerActivity,omitempty"`
}

// Intent is the recognized user utterance plus its extracted slots.
type Intent struct {
	Name  string          `json:"name"`
	Slots map[string]Slot `json:"-"`
}

// Slot is one named, optionally-valued intent parameter.
type Slot struct {
	Name        string          `json:"name"`
	Value       string          `json:"value,omitempty"`
	Resolutions json.RawMessage `json:"resolutions,omitempty"`
}

// RequestError is the error detail attached to failure events.
type RequestError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Request is the tagged union over the request kinds the platform sends.
// Exactly one concrete type backs each envelope.
type Request interface {
	// Type returns the wire request type, e.g. "IntentRequest".
	Type() string
	// Base returns the fields common to every request kind.
	Base() *RequestBase
}

// RequestBase holds the fields every request kind carries.
type RequestBase struct {
	TypeName  string
	RequestID string
	Locale    string
	Timestamp time.Time

	raw json.RawMessage
}

// Type implements Request.
func (b *RequestBase) Type() string { return b.TypeName }

// Base implements Request.
func (b *RequestBase) Base() *RequestBase { return b }

// Raw returns the undecoded request body.
func (b *RequestBase) Raw() json.RawMessage { return b.raw }

// Fields decodes the raw request body into a flat field map, used to bind
// handler parameters for non-intent requests.
func (b *RequestBase) Fields() map[string]any {
	fields := map[string]any{}
	if b.raw != nil {
		_ = json.Unmarshal(b.raw, &fields)
	}
	return fields
}

// LaunchRequest opens a skill without an intent.
type LaunchRequest struct {
	RequestBase
}

// IntentRequest carries a recognized intent and its slots.
type IntentRequest struct {
	RequestBase
	Intent      Intent
	DialogState string
}

// SessionEndedRequest closes a conversation.
type SessionEndedRequest struct {
	RequestBase
	Reason string
	Error  *RequestError
}

// AudioPlayerRequest is any AudioPlayer.* lifecycle event. For these the
// stream fields live on the request body itself rather than the context.
type AudioPlayerRequest struct {
	RequestBase
	Token                *string
	OffsetInMilliseconds *int64
	CurrentPlaybackState *AudioPlayerState
	Error                *RequestError
}

// PlaybackControllerRequest is a hardware transport-control event
// (PlaybackController.*).
type PlaybackControllerRequest struct {
	RequestBase
}

// UnknownRequest preserves request kinds this package does not model.
type UnknownRequest struct {
	RequestBase
}

// ParseEnvelope decodes one inbound payload into its normalized form.
// It is a pure function: the only failure mode is ErrMalformedEnvelope
// for structurally unusable input.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var wire struct {
		Version string          `json:"version"`
		Session json.RawMessage `json:"session"`
		Context json.RawMessage `json:"context"`
		Request json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(wire.Request) == 0 {
		return nil, fmt.Errorf("%w: missing request", ErrMalformedEnvelope)
	}

	env := &Envelope{
		Version: wire.Version,
		raw:     append(json.RawMessage(nil), body...),
	}

	env.Session = parseSession(wire.Session)

	if len(wire.Context) > 0 {
		ctx := &RequestContext{raw: append(json.RawMessage(nil), wire.Context...)}
		if err := json.Unmarshal(wire.Context, ctx); err != nil {
			return nil, fmt.Errorf("%w: context: %v", ErrMalformedEnvelope, err)
		}
		env.Context = ctx
	}

	req, err := parseRequest(wire.Request)
	if err != nil {
		return nil, err
	}
	env.Request = req
	return env, nil
}

// parseSession tolerates an absent session by producing an empty one, so
// audio-player events route like any other request.
func parseSession(raw json.RawMessage) *Session {
	sess := &Session{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, sess)
	}
	if sess.Attributes == nil {
		sess.Attributes = map[string]any{}
	}
	return sess
}

func parseRequest(raw json.RawMessage) (Request, error) {
	var head struct {
		Type      string `json:"type"`
		RequestID string `json:"requestId"`
		Locale    string `json:"locale"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: request: %v", ErrMalformedEnvelope, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing request type", ErrMalformedEnvelope)
	}

	base := RequestBase{
		TypeName:  head.Type,
		RequestID: head.RequestID,
		Locale:    head.Locale,
		Timestamp: parseTimestamp(head.Timestamp),
		raw:       append(json.RawMessage(nil), raw...),
	}

	switch {
	case head.Type == TypeLaunch:
		return &LaunchRequest{RequestBase: base}, nil

	case head.Type == TypeIntent:
		var body struct {
			DialogState string `json:"dialogState"`
			Intent      struct {
				Name  string                     `json:"name"`
				Slots map[string]json.RawMessage `json:"slots"`
			} `json:"intent"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("%w: intent: %v", ErrMalformedEnvelope, err)
		}
		intent := Intent{Name: body.Intent.Name, Slots: map[string]Slot{}}
		// Slots are re-keyed by each slot's own name field; the JSON
		// object keys are not trusted.
		for _, rawSlot := range body.Intent.Slots {
			var slot Slot
			if err := json.Unmarshal(rawSlot, &slot); err != nil {
				continue
			}
			if slot.Name != "" {
				intent.Slots[slot.Name] = slot
			}
		}
		return &IntentRequest{RequestBase: base, Intent: intent, DialogState: body.DialogState}, nil

	case head.Type == TypeSessionEnded:
		var body struct {
			Reason string        `json:"reason"`
			Error  *RequestError `json:"error"`
		}
		_ = json.Unmarshal(raw, &body)
		return &SessionEndedRequest{RequestBase: base, Reason: body.Reason, Error: body.Error}, nil

	case isAudioPlayerType(head.Type):
		var body struct {
			Token                *string           `json:"token"`
			OffsetInMilliseconds *int64            `json:"offsetInMilliseconds"`
			CurrentPlaybackState *AudioPlayerState `json:"currentPlaybackState"`
			Error                *RequestError     `json:"error"`
		}
		_ = json.Unmarshal(raw, &body)
		return &AudioPlayerRequest{
			RequestBase:          base,
			Token:                body.Token,
			OffsetInMilliseconds: body.OffsetInMilliseconds,
			CurrentPlaybackState: body.CurrentPlaybackState,
			Error:                body.Error,
		}, nil

	case isPlaybackControllerType(head.Type):
		return &PlaybackControllerRequest{RequestBase: base}, nil
	}

	return &UnknownRequest{RequestBase: base}, nil
}

// parseTimestamp accepts the RFC3339 variants seen on the wire. A
// malformed timestamp yields the zero time; the verifier treats that as
// out of tolerance.
func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func isAudioPlayerType(typeName string) bool {
	return strings.HasPrefix(typeName, "AudioPlayer.")
}

func isPlaybackControllerType(typeName string) bool {
	return strings.HasPrefix(typeName, "PlaybackController.")
}
