package scripted

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/echokit/echokit/ask"
)

func intentEnvelope(name string, slots map[string]string) string {
	var slotParts []string
	for slotName, value := range slots {
		slotParts = append(slotParts,
			fmt.Sprintf(`%q: {"name": %q, "value": %q}`, slotName, slotName, value))
	}
	return fmt.Sprintf(`{
		"version": "1.0",
		"session": {"sessionId": "s1", "new": false, "user": {"userId": "u1"}, "attributes": {}},
		"context": {"System": {"user": {"userId": "u1"}}},
		"request": {
			"type": "IntentRequest",
			"requestId": "r1",
			"timestamp": "2018-01-01T00:00:00Z",
			"intent": {"name": %q, "slots": {%s}}
		}
	}`, name, strings.Join(slotParts, ","))
}

func post(t *testing.T, skill *ask.Skill, envelope string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(envelope))
	rec := httptest.NewRecorder()
	skill.ServeHTTP(rec, req)
	return rec
}

func postEnvelope(t *testing.T, skill *ask.Skill, envelope string) string {
	t.Helper()
	rec := post(t, skill, envelope)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return rec.Body.String()
}

func postStatus(t *testing.T, skill *ask.Skill, envelope string) int {
	t.Helper()
	return post(t, skill, envelope).Code
}
