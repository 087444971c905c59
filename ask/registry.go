package ask

// Handler is a user-supplied function invoked for a routed request.
// args holds the bound parameter values in the order declared with
// Params at registration time. A nil Response with a nil error renders
// the empty 400 fallback, matching the no-handler-output path.
type Handler func(rc *ReqContext, args []any) (*Response, error)

// Callback runs for session-start notification; its return is not
// consumed.
type Callback func(rc *ReqContext)

// ConverterFunc turns a raw slot or field value into a typed one. A nil
// returned value with a nil error is a valid outcome (the platform's
// date grammar can legitimately match nothing). A non-nil error is
// recorded in ReqContext.ConvertErrors and leaves the parameter holding
// its pre-conversion value.
type ConverterFunc func(value any) (any, error)

// DefaultFunc produces a parameter default at bind time, supporting
// non-constant defaults such as "today".
type DefaultFunc func() any

// registration is one routing-table entry: the handler plus its
// parameter metadata. Parameter lists are declared explicitly because
// the registry never inspects function signatures.
type registration struct {
	handler  Handler
	params   []string
	mapping  map[string]string
	converts map[string]ConverterFunc
	defaults map[string]DefaultFunc
}

// RegOption customizes one registration.
type RegOption func(*registration)

// Params declares the handler's parameter names in binding order.
func Params(names ...string) RegOption {
	return func(r *registration) {
		r.params = names
	}
}

// MapTo binds a handler parameter to a slot or request field of a
// different name.
func MapTo(param, field string) RegOption {
	return func(r *registration) {
		r.mapping[param] = field
	}
}

// Convert applies a built-in converter shorthand ("date", "time",
// "timedelta") to a parameter. Unknown shorthands panic at registration,
// which happens once at start-up.
func Convert(param, shorthand string) RegOption {
	fn, ok := builtinConverters[shorthand]
	if !ok {
		panic("ask: unknown converter shorthand " + shorthand)
	}
	return func(r *registration) {
		r.converts[param] = fn
	}
}

// ConvertWith applies a custom converter to a parameter.
func ConvertWith(param string, fn ConverterFunc) RegOption {
	return func(r *registration) {
		r.converts[param] = fn
	}
}

// Default supplies a literal fallback for a missing or empty slot.
func Default(param string, value any) RegOption {
	return func(r *registration) {
		r.defaults[param] = func() any { return value }
	}
}

// DefaultBy supplies a producer invoked at bind time for a missing or
// empty slot.
func DefaultBy(param string, fn DefaultFunc) RegOption {
	return func(r *registration) {
		r.defaults[param] = fn
	}
}

func newRegistration(h Handler, opts []RegOption) *registration {
	reg := &registration{
		handler:  h,
		mapping:  map[string]string{},
		converts: map[string]ConverterFunc{},
		defaults: map[string]DefaultFunc{},
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// intentKey scopes an intent registration to a conversation state. The
// empty state is the wildcard consulted when no exact state entry exists.
type intentKey struct {
	name  string
	state string
}

// registry is the write-once routing table. All registration happens at
// start-up, before the skill serves requests, so lookups take no lock.
type registry struct {
	launch         *registration
	sessionEnded   *registration
	defaultIntent  *registration
	sessionStarted Callback
	intents        map[intentKey]*registration
	playback       map[string]*registration
}

func newRegistry() *registry {
	return &registry{
		intents:  map[intentKey]*registration{},
		playback: map[string]*registration{},
	}
}

// OnLaunch registers the LaunchRequest handler.
func (s *Skill) OnLaunch(h Handler, opts ...RegOption) {
	s.reg.launch = newRegistration(h, opts)
}

// OnSessionEnded registers the SessionEndedRequest handler.
func (s *Skill) OnSessionEnded(h Handler, opts ...RegOption) {
	s.reg.sessionEnded = newRegistration(h, opts)
}

// OnSessionStarted registers a callback run once, before routing, for
// any request whose session is new.
func (s *Skill) OnSessionStarted(cb Callback) {
	s.reg.sessionStarted = cb
}

// OnIntent registers an intent handler for any conversation state.
// Registering the same intent twice replaces the earlier entry: last
// registration wins.
func (s *Skill) OnIntent(name string, h Handler, opts ...RegOption) {
	s.OnIntentInState(name, "", h, opts...)
}

// OnIntentInState registers an intent handler that only fires while the
// session's conversation state equals state. Last registration for a
// given (intent, state) pair wins.
func (s *Skill) OnIntentInState(name, state string, h Handler, opts ...RegOption) {
	s.reg.intents[intentKey{name: name, state: state}] = newRegistration(h, opts)
}

// OnDefaultIntent registers the fallback for intents with no matching
// registration.
func (s *Skill) OnDefaultIntent(h Handler, opts ...RegOption) {
	s.reg.defaultIntent = newRegistration(h, opts)
}

// OnPlayback registers a handler for an AudioPlayer.* or
// PlaybackController.* event type. These are optional; unregistered
// events invoke a no-op. Unless remapped, the handler parameter "offset"
// binds to the event's offsetInMilliseconds field.
func (s *Skill) OnPlayback(eventType string, h Handler, opts ...RegOption) {
	reg := newRegistration(h, opts)
	if _, remapped := reg.mapping["offset"]; !remapped {
		reg.mapping["offset"] = "offsetInMilliseconds"
	}
	s.reg.playback[eventType] = reg
}

// lookupIntent resolves (name, state) to a registration: exact state
// first, then the wildcard, then the default-intent fallback. ok=false
// means the intent is unroutable.
func (r *registry) lookupIntent(name, state string) (*registration, bool) {
	if reg, ok := r.intents[intentKey{name: name, state: state}]; ok {
		return reg, true
	}
	if state != "" {
		if reg, ok := r.intents[intentKey{name: name}]; ok {
			return reg, true
		}
	}
	if r.defaultIntent != nil {
		return r.defaultIntent, true
	}
	return nil, false
}

// noopRegistration backs unregistered playback events.
var noopRegistration = &registration{
	handler:  func(*ReqContext, []any) (*Response, error) { return nil, nil },
	mapping:  map[string]string{},
	converts: map[string]ConverterFunc{},
	defaults: map[string]DefaultFunc{},
}
