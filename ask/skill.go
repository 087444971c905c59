// Package ask adapts an HTTP server to voice-assistant webhook traffic:
// it verifies request signatures, parses the JSON envelope, routes to a
// registered handler, binds slot values to handler parameters, and
// renders the handler's response builder back to the wire format.
package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/echokit/echokit/streamcache"
	"github.com/echokit/echokit/streamcache/drivers"
)

// DefaultStateKey is the reserved session-attribute key holding the
// conversation state token.
const DefaultStateKey = "_ask_state"

// RoutingError reports an intent with no matching handler and no
// default-intent fallback.
type RoutingError struct {
	Intent string
}

// Error implements error.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("ask: intent %q not found and no default intent registered", e.Intent)
}

// AttributesEncoder serializes session attributes, for applications
// whose attribute values are not plain JSON primitives.
type AttributesEncoder func(attributes map[string]any) (json.RawMessage, error)

// Skill dispatches webhook requests to registered handlers. Register
// handlers at start-up; the routing table is read-only once the skill
// serves traffic.
type Skill struct {
	reg      *registry
	verifier *Verifier
	cache    streamcache.Store
	logger   *log.Logger

	route           string
	stateKey        string
	appIDs          []string
	verifyRequests  bool
	verifyTimestamp bool
	encodeAttrs     AttributesEncoder

	now func() time.Time
}

// Option customizes a Skill.
type Option func(*Skill)

// WithRoute sets the POST route registered by Register. Default "/".
func WithRoute(route string) Option {
	return func(s *Skill) { s.route = route }
}

// WithApplicationIDs sets the application-id allow-list and enables the
// origin check. Without it, application ids are not checked and a
// warning is logged per request.
func WithApplicationIDs(ids ...string) Option {
	return func(s *Skill) { s.appIDs = ids }
}

// WithoutVerification disables request-signature and timestamp
// verification. This is a test escape hatch for posting mocked JSON;
// never disable verification in production.
func WithoutVerification() Option {
	return func(s *Skill) { s.verifyRequests = false }
}

// WithoutTimestampCheck disables the anti-replay timestamp gate while
// keeping signature verification, for debugging against recorded
// payloads.
func WithoutTimestampCheck() Option {
	return func(s *Skill) { s.verifyTimestamp = false }
}

// WithStreamCache injects the stream-state backend. Default is the
// in-process memory driver.
func WithStreamCache(store streamcache.Store) Option {
	return func(s *Skill) { s.cache = store }
}

// WithStateKey overrides the reserved session-attribute key used for
// conversation state.
func WithStateKey(key string) Option {
	return func(s *Skill) { s.stateKey = key }
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Skill) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAttributesEncoder overrides session-attribute serialization.
func WithAttributesEncoder(enc AttributesEncoder) Option {
	return func(s *Skill) { s.encodeAttrs = enc }
}

// WithHTTPClient sets the client used to fetch signing certificates.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Skill) { s.verifier = NewVerifier(client) }
}

// New creates a Skill with verification enabled.
func New(opts ...Option) *Skill {
	s := &Skill{
		reg:             newRegistry(),
		route:           "/",
		stateKey:        DefaultStateKey,
		verifyRequests:  true,
		verifyTimestamp: true,
		logger:          log.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = NewVerifier(nil)
	}
	if s.cache == nil {
		s.cache = drivers.NewMemory()
	}
	return s
}

// Register mounts the skill's POST route on mux.
func (s *Skill) Register(mux *http.ServeMux) {
	mux.Handle(s.route, s)
}

// ServeHTTP implements http.Handler for the webhook route. One request
// runs the full pipeline synchronously: verify, parse, sync stream
// state, route, bind, invoke, render.
func (s *Skill) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Printf("[Ask] failed to read request body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	env, err := ParseEnvelope(rawBody)
	if err != nil {
		s.logger.Printf("[Ask] %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verification failures are logged with their reason but answered
	// tersely, so the response is no oracle for attackers.
	if err := s.verifyRequest(r, rawBody, env); err != nil {
		s.logger.Printf("[Ask] rejected request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rc := s.newReqContext(r.Context(), env)
	s.syncStream(rc)

	if env.Session.New && s.reg.sessionStarted != nil {
		s.reg.sessionStarted(rc)
	}

	resp, err := s.dispatch(rc)
	if err != nil {
		var routingErr *RoutingError
		if errors.As(err, &routingErr) {
			s.logger.Printf("[Ask] %v", routingErr)
		} else {
			s.logger.Printf("[Ask] handler error: %v", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if resp == nil {
		// No handler produced output; fixed bad-request fallback.
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if resp.builtin != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(resp.builtin)
		return
	}

	body, err := resp.render(rc)
	if err != nil {
		s.logger.Printf("[Ask] render failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// verifyRequest runs the signature, timestamp, and application-id gates
// in order. Any failure is fatal for the request.
func (s *Skill) verifyRequest(r *http.Request, rawBody []byte, env *Envelope) error {
	if !s.verifyRequests {
		return nil
	}

	signature := r.Header.Get("Signature")
	certURL := r.Header.Get("SignatureCertChainUrl")
	if err := s.verifier.Verify(rawBody, signature, certURL, s.now()); err != nil {
		return err
	}

	if s.verifyTimestamp {
		if err := verifyTimestamp(env.Request.Base().Timestamp, s.now()); err != nil {
			return err
		}
	}

	if len(s.appIDs) == 0 {
		s.logger.Printf("[Ask] application id verification disabled; configure WithApplicationIDs in production")
		return nil
	}
	return verifyApplicationID(applicationID(env), s.appIDs)
}

// applicationID prefers the session's application id and falls back to
// the context snapshot, which is all audio events carry.
func applicationID(env *Envelope) string {
	if env.Session != nil && env.Session.Application.ApplicationID != "" {
		return env.Session.Application.ApplicationID
	}
	if env.Context != nil {
		return env.Context.System.Application.ApplicationID
	}
	return ""
}

// dispatch routes the request to its handler and invokes it with bound
// arguments. A nil response with nil error means nothing was produced
// and the caller answers with the 400 fallback.
func (s *Skill) dispatch(rc *ReqContext) (*Response, error) {
	switch req := rc.Envelope.Request.(type) {
	case *LaunchRequest:
		if s.reg.launch == nil {
			return nil, nil
		}
		return s.invoke(rc, s.reg.launch, func(string) (any, bool) { return nil, false })

	case *SessionEndedRequest:
		if s.reg.sessionEnded == nil {
			return &Response{builtin: []byte("{}")}, nil
		}
		return s.invoke(rc, s.reg.sessionEnded, fieldLookup(req))

	case *IntentRequest:
		reg, ok := s.reg.lookupIntent(req.Intent.Name, rc.State())
		if !ok {
			return nil, &RoutingError{Intent: req.Intent.Name}
		}
		return s.invoke(rc, reg, intentLookup(req.Intent))

	case *AudioPlayerRequest, *PlaybackControllerRequest:
		reg, ok := s.reg.playback[req.Type()]
		if !ok {
			reg = noopRegistration
		}
		return s.invoke(rc, reg, fieldLookup(req))
	}
	return nil, nil
}

func (s *Skill) invoke(rc *ReqContext, reg *registration, lookup func(string) (any, bool)) (*Response, error) {
	args, convertErrors := bindParams(reg, lookup)
	rc.ConvertErrors = convertErrors
	return reg.handler(rc, args)
}

// syncStream reconciles the cached stream descriptor with this request
// before routing. The base is the cached current stream; an audio
// event's own fields overlay it, then the context audio-player snapshot.
// The merge is field-level, so a stopped event that omits the URL keeps
// the cached one.
func (s *Skill) syncStream(rc *ReqContext) {
	if rc.userID == "" {
		return
	}
	current, _, err := streamcache.Peek(rc.ctx, s.cache, rc.userID)
	if err != nil {
		s.logger.Printf("[Ask] stream cache peek failed: %v", err)
		return
	}

	merged := current
	if audio, ok := rc.Envelope.Request.(*AudioPlayerRequest); ok {
		merged = applyPatch(merged, AudioPlayerState{
			Token:                audio.Token,
			OffsetInMilliseconds: audio.OffsetInMilliseconds,
		})
		if audio.CurrentPlaybackState != nil {
			merged = applyPatch(merged, *audio.CurrentPlaybackState)
		}
	}
	if rc.Envelope.Context != nil && rc.Envelope.Context.AudioPlayer != nil {
		merged = applyPatch(merged, *rc.Envelope.Context.AudioPlayer)
	}

	if merged == current {
		return
	}
	if err := streamcache.SetCurrent(rc.ctx, s.cache, rc.userID, merged); err != nil {
		s.logger.Printf("[Ask] stream cache update failed: %v", err)
	}
}

// applyPatch overlays the non-nil fields of patch onto stream.
func applyPatch(stream streamcache.Stream, patch AudioPlayerState) streamcache.Stream {
	if patch.Token != nil {
		stream.Token = *patch.Token
	}
	if patch.URL != nil {
		stream.URL = *patch.URL
	}
	if patch.OffsetInMilliseconds != nil {
		stream.OffsetInMilliseconds = *patch.OffsetInMilliseconds
	}
	if patch.PlayerActivity != nil {
		stream.PlayerActivity = *patch.PlayerActivity
	}
	return stream
}

// ReqContext is the request-scoped view handlers receive: the parsed
// envelope, the session attribute map, conversion failures from
// parameter binding, and accessors for conversation state and the
// cached stream. It replaces ambient globals; nothing here outlives the
// request except what the stream cache stores.
type ReqContext struct {
	Envelope *Envelope
	// ConvertErrors maps parameter names to the conversion failures
	// recorded while binding; empty when every conversion succeeded.
	ConvertErrors map[string]error

	ctx    context.Context
	skill  *Skill
	userID string
}

func (s *Skill) newReqContext(ctx context.Context, env *Envelope) *ReqContext {
	userID := ""
	if env.Context != nil && env.Context.System.User.UserID != "" {
		userID = env.Context.System.User.UserID
	} else if env.Session != nil {
		userID = env.Session.User.UserID
	}
	return &ReqContext{Envelope: env, ctx: ctx, skill: s, userID: userID}
}

// Context returns the inbound request's context.
func (rc *ReqContext) Context() context.Context { return rc.ctx }

// Logger returns the skill's logger.
func (rc *ReqContext) Logger() *log.Logger { return rc.skill.logger }

// Session returns the request's session; never nil.
func (rc *ReqContext) Session() *Session { return rc.Envelope.Session }

// UserID returns the requesting user's id, or "" when absent.
func (rc *ReqContext) UserID() string { return rc.userID }

// Attribute reads a session attribute.
func (rc *ReqContext) Attribute(key string) (any, bool) {
	value, ok := rc.Envelope.Session.Attributes[key]
	return value, ok
}

// SetAttribute writes a session attribute; it is echoed to the caller in
// sessionAttributes and returned on the next turn.
func (rc *ReqContext) SetAttribute(key string, value any) {
	rc.Envelope.Session.Attributes[key] = value
}

// State returns the current conversation state token, or "".
func (rc *ReqContext) State() string {
	if v, ok := rc.Envelope.Session.Attributes[rc.skill.stateKey]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetState stores the conversation state consulted by the next turn's
// intent routing.
func (rc *ReqContext) SetState(state string) {
	rc.Envelope.Session.Attributes[rc.skill.stateKey] = state
}

// ClearState removes the conversation state token.
func (rc *ReqContext) ClearState() {
	delete(rc.Envelope.Session.Attributes, rc.skill.stateKey)
}

// CurrentStream returns the cached stream descriptor for this user; a
// zero stream when none is tracked.
func (rc *ReqContext) CurrentStream() streamcache.Stream {
	stream, _, err := streamcache.Peek(rc.ctx, rc.skill.cache, rc.userID)
	if err != nil {
		rc.skill.logger.Printf("[Ask] stream cache peek failed: %v", err)
		return streamcache.Stream{}
	}
	return stream
}

// storeStream records a directive's stream. Fresh streams replace the
// user's stack; resumed or enqueued streams are pushed on top of it.
func (rc *ReqContext) storeStream(stream streamcache.Stream, replace bool) error {
	if rc.userID == "" {
		return nil
	}
	if replace {
		return streamcache.SetCurrent(rc.ctx, rc.skill.cache, rc.userID, stream)
	}
	_, err := streamcache.Push(rc.ctx, rc.skill.cache, rc.userID, stream)
	return err
}

func (rc *ReqContext) encodeAttributes() (json.RawMessage, error) {
	attrs := rc.Envelope.Session.Attributes
	if rc.skill.encodeAttrs != nil {
		return rc.skill.encodeAttrs(attrs)
	}
	return json.Marshal(attrs)
}
