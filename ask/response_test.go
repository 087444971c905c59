package ask

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/echokit/echokit/streamcache"
	"github.com/echokit/echokit/streamcache/drivers"
)

// testContext builds a request context around an in-memory cache for
// exercising the renderer directly.
func testContext(t *testing.T, store streamcache.Store) *ReqContext {
	t.Helper()
	skill := New(WithoutVerification(), WithStreamCache(store))
	env, err := ParseEnvelope([]byte(`{
		"version": "1.0",
		"session": {"sessionId": "s1", "user": {"userId": "dave"}, "attributes": {}},
		"context": {"System": {"user": {"userId": "dave"}}},
		"request": {"type": "LaunchRequest", "requestId": "r1", "timestamp": "2018-01-01T00:00:00Z"}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return skill.newReqContext(context.Background(), env)
}

func renderToMap(t *testing.T, rc *ReqContext, resp *Response) map[string]any {
	t.Helper()
	raw, err := resp.render(rc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal rendered response: %v", err)
	}
	return out
}

func TestStatementWireShape(t *testing.T) {
	rc := testContext(t, drivers.NewMemory())

	got := renderToMap(t, rc, Statement("hello"))
	want := map[string]any{
		"version": "1.0",
		"response": map[string]any{
			"outputSpeech":     map[string]any{"type": "PlainText", "text": "hello"},
			"shouldEndSession": true,
		},
		"sessionAttributes": map[string]any{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rendered = %#v\nwant %#v", got, want)
	}
}

func TestQuestionKeepsSessionOpen(t *testing.T) {
	rc := testContext(t, drivers.NewMemory())

	got := renderToMap(t, rc, Question("ready?").Reprompt("still there?"))
	response := got["response"].(map[string]any)
	if response["shouldEndSession"] != false {
		t.Fatalf("shouldEndSession = %v", response["shouldEndSession"])
	}
	reprompt := response["reprompt"].(map[string]any)["outputSpeech"].(map[string]any)
	if reprompt["text"] != "still there?" {
		t.Fatalf("reprompt = %v", reprompt)
	}
}

func TestSpeechSniffing(t *testing.T) {
	tests := []struct {
		speech   string
		wantType string
	}{
		{"plain words", "PlainText"},
		{"<speak>Hello <break time='1s'/> world</speak>", "SSML"},
		// Markup with the wrong root stays plain.
		{"<p>Hello</p>", "PlainText"},
		// Malformed markup stays plain.
		{"<speak>unclosed", "PlainText"},
		{"5 < 10", "PlainText"},
	}
	for _, tt := range tests {
		speech := outputSpeech(tt.speech)
		if speech["type"] != tt.wantType {
			t.Errorf("outputSpeech(%q) type = %v, want %s", tt.speech, speech["type"], tt.wantType)
		}
	}
}

func TestCards(t *testing.T) {
	rc := testContext(t, drivers.NewMemory())

	got := renderToMap(t, rc, Statement("ok").SimpleCard("Title", "Body"))
	card := got["response"].(map[string]any)["card"].(map[string]any)
	if card["type"] != "Simple" || card["title"] != "Title" || card["content"] != "Body" {
		t.Fatalf("simple card = %v", card)
	}

	got = renderToMap(t, rc, Statement("ok").StandardCard("Title", "Text", "https://img/s.png", ""))
	card = got["response"].(map[string]any)["card"].(map[string]any)
	image := card["image"].(map[string]any)
	if image["smallImageUrl"] != "https://img/s.png" {
		t.Fatalf("standard card image = %v", image)
	}
	if _, ok := image["largeImageUrl"]; ok {
		t.Fatal("empty large image URL must be omitted")
	}

	got = renderToMap(t, rc, Statement("ok").LinkAccountCard())
	card = got["response"].(map[string]any)["card"].(map[string]any)
	if card["type"] != "LinkAccount" {
		t.Fatalf("card = %v", card)
	}

	got = renderToMap(t, rc, Statement("ok").ConsentCard("read::alexa:device:all:address"))
	card = got["response"].(map[string]any)["card"].(map[string]any)
	if card["type"] != "AskForPermissionsConsent" {
		t.Fatalf("card = %v", card)
	}
}

func firstDirective(t *testing.T, rendered map[string]any) map[string]any {
	t.Helper()
	directives := rendered["response"].(map[string]any)["directives"].([]any)
	if len(directives) == 0 {
		t.Fatal("no directives emitted")
	}
	return directives[0].(map[string]any)
}

func TestPlayMintsTokenAndCaches(t *testing.T) {
	store := drivers.NewMemory()
	rc := testContext(t, store)

	got := renderToMap(t, rc, Audio("playing").Play("https://example.com/song.mp3"))
	directive := firstDirective(t, got)
	if directive["type"] != "AudioPlayer.Play" || directive["playBehavior"] != "REPLACE_ALL" {
		t.Fatalf("directive = %v", directive)
	}
	stream := directive["audioItem"].(map[string]any)["stream"].(map[string]any)
	token := stream["token"].(string)
	if len(token) != 36 {
		t.Fatalf("token %q length = %d, want 36", token, len(token))
	}
	if stream["offsetInMilliseconds"] != float64(0) {
		t.Fatalf("offset = %v", stream["offsetInMilliseconds"])
	}

	cached, ok, err := streamcache.Peek(context.Background(), store, "dave")
	if err != nil || !ok {
		t.Fatalf("peek: ok=%v err=%v", ok, err)
	}
	if cached.Token != token || cached.URL != "https://example.com/song.mp3" {
		t.Fatalf("cache holds %+v", cached)
	}
}

func TestPlayHonorsOpaqueToken(t *testing.T) {
	rc := testContext(t, drivers.NewMemory())

	got := renderToMap(t, rc, Audio("").Play("https://example.com/song.mp3",
		OpaqueToken("my-token"), Offset(10)))
	stream := firstDirective(t, got)["audioItem"].(map[string]any)["stream"].(map[string]any)
	if stream["token"] != "my-token" {
		t.Fatalf("token = %v", stream["token"])
	}
	if stream["offsetInMilliseconds"] != float64(10) {
		t.Fatalf("offset = %v", stream["offsetInMilliseconds"])
	}
}

func TestResumeReusesCachedStream(t *testing.T) {
	store := drivers.NewMemory()
	if err := streamcache.SetCurrent(context.Background(), store, "dave", streamcache.Stream{
		Token: "tok-cached", URL: "https://example.com/paused.mp3", OffsetInMilliseconds: 5120,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	rc := testContext(t, store)

	got := renderToMap(t, rc, Audio("").Resume())
	stream := firstDirective(t, got)["audioItem"].(map[string]any)["stream"].(map[string]any)
	if stream["token"] != "tok-cached" || stream["url"] != "https://example.com/paused.mp3" {
		t.Fatalf("stream = %v", stream)
	}
	if stream["offsetInMilliseconds"] != float64(5120) {
		t.Fatalf("offset = %v", stream["offsetInMilliseconds"])
	}
}

func TestEnqueueLinksPreviousToken(t *testing.T) {
	store := drivers.NewMemory()
	if err := streamcache.SetCurrent(context.Background(), store, "dave", streamcache.Stream{
		Token: "tok-current", URL: "https://example.com/current.mp3",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	rc := testContext(t, store)

	got := renderToMap(t, rc, Audio("").Enqueue("https://example.com/next.mp3"))
	directive := firstDirective(t, got)
	if directive["playBehavior"] != "ENQUEUE" {
		t.Fatalf("behavior = %v", directive["playBehavior"])
	}
	stream := directive["audioItem"].(map[string]any)["stream"].(map[string]any)
	if stream["expectedPreviousToken"] != "tok-current" {
		t.Fatalf("expectedPreviousToken = %v", stream["expectedPreviousToken"])
	}
}

func TestStopAndClearQueue(t *testing.T) {
	rc := testContext(t, drivers.NewMemory())

	got := renderToMap(t, rc, Audio("ok, stopping").Stop())
	if d := firstDirective(t, got); d["type"] != "AudioPlayer.Stop" {
		t.Fatalf("directive = %v", d)
	}

	got = renderToMap(t, rc, Audio("").ClearQueue(true))
	d := firstDirective(t, got)
	if d["type"] != "AudioPlayer.ClearQueue" || d["clearBehavior"] != "CLEAR_ALL" {
		t.Fatalf("directive = %v", d)
	}

	got = renderToMap(t, rc, Audio("").ClearQueue(false))
	if d := firstDirective(t, got); d["clearBehavior"] != "CLEAR_ENQUEUED" {
		t.Fatalf("directive = %v", d)
	}
}

func TestCustomAttributesEncoder(t *testing.T) {
	skill := New(WithoutVerification(), WithAttributesEncoder(func(map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`{"encoded":true}`), nil
	}))
	env, err := ParseEnvelope([]byte(`{
		"version": "1.0",
		"request": {"type": "LaunchRequest", "requestId": "r1", "timestamp": "2018-01-01T00:00:00Z"}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rc := skill.newReqContext(context.Background(), env)

	got := renderToMap(t, rc, Statement("hi"))
	attrs := got["sessionAttributes"].(map[string]any)
	if attrs["encoded"] != true {
		t.Fatalf("sessionAttributes = %v", attrs)
	}
}
