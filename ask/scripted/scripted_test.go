package scripted

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/echokit/echokit/ask"
)

// renderVia runs a scripted handler through a full dispatch so the
// response is rendered exactly as the platform would see it.
func renderVia(t *testing.T, src string, envelope string) string {
	t.Helper()

	handler, err := Handler("test.js", src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	skill := ask.New(ask.WithoutVerification())
	skill.OnIntent("EchoIntent", handler, ask.Params("word"), ask.MapTo("word", "Word"))

	return postEnvelope(t, skill, envelope)
}

func TestStringReturnBecomesStatement(t *testing.T) {
	body := renderVia(t, `function handle(ctx, args) { return "you said " + args[0]; }`,
		intentEnvelope("EchoIntent", map[string]string{"Word": "hi"}))

	var wire struct {
		Response struct {
			OutputSpeech struct {
				Text string `json:"text"`
			} `json:"outputSpeech"`
			ShouldEndSession bool `json:"shouldEndSession"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire.Response.OutputSpeech.Text != "you said hi" {
		t.Fatalf("speech = %q", wire.Response.OutputSpeech.Text)
	}
	if !wire.Response.ShouldEndSession {
		t.Fatal("expected statement to end the session")
	}
}

func TestObjectReturnWithState(t *testing.T) {
	src := `function handle(ctx, args) {
		ctx.setState("quiz");
		return {speech: "first question", question: true, reprompt: "still there?"};
	}`
	body := renderVia(t, src, intentEnvelope("EchoIntent", nil))

	if !strings.Contains(body, `"first question"`) {
		t.Fatalf("missing speech in %s", body)
	}
	if !strings.Contains(body, `"still there?"`) {
		t.Fatalf("missing reprompt in %s", body)
	}
	if !strings.Contains(body, `"_ask_state":"quiz"`) {
		t.Fatalf("state not stored in session attributes: %s", body)
	}
	if strings.Contains(body, `"shouldEndSession":true`) {
		t.Fatalf("question must keep the session open: %s", body)
	}
}

func TestCompileErrorSurfacesEarly(t *testing.T) {
	if _, err := Handler("bad.js", `function handle( {`); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestMissingHandle(t *testing.T) {
	handler, err := Handler("nohandle.js", `var x = 1;`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	skill := ask.New(ask.WithoutVerification())
	skill.OnIntent("EchoIntent", handler)

	status := postStatus(t, skill, intentEnvelope("EchoIntent", nil))
	if status != 500 {
		t.Fatalf("expected 500 for missing handle(), got %d", status)
	}
}
