// Package scripted adapts a JavaScript function into an ask.Handler, so
// skill replies can be prototyped or hot-swapped without recompiling.
//
// The script must define a function named handle taking (ctx, args):
//
//	function handle(ctx, args) {
//	    ctx.setState("answering");
//	    return "You said " + args[0];
//	}
//
// A string return becomes a statement; an object return may set speech,
// question, reprompt, and endSession; null or undefined produces no
// response.
package scripted

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/echokit/echokit/ask"
)

// ErrNoHandle indicates the script does not define handle().
var ErrNoHandle = errors.New("scripted: script does not define handle(ctx, args)")

// Handler compiles src and wraps it as an ask.Handler. Compilation
// errors surface here, at registration time; each invocation then runs
// in a fresh runtime so scripts cannot leak state between requests.
func Handler(name, src string) (ask.Handler, error) {
	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("scripted: compile %s: %w", name, err)
	}

	return func(rc *ask.ReqContext, args []any) (*ask.Response, error) {
		vm := goja.New()
		if _, err := vm.RunProgram(program); err != nil {
			return nil, fmt.Errorf("scripted: %s: %w", name, err)
		}
		handle, ok := goja.AssertFunction(vm.Get("handle"))
		if !ok {
			return nil, ErrNoHandle
		}

		result, err := handle(goja.Undefined(), vm.ToValue(scriptContext(rc)), vm.ToValue(args))
		if err != nil {
			return nil, fmt.Errorf("scripted: %s: %w", name, err)
		}
		return toResponse(result)
	}, nil
}

// scriptContext is the ctx object handed to the script. Attribute and
// state mutations write through to the request's session.
func scriptContext(rc *ask.ReqContext) map[string]any {
	return map[string]any{
		"userId":     rc.UserID(),
		"attributes": rc.Session().Attributes,
		"state":      func() string { return rc.State() },
		"setState":   func(s string) { rc.SetState(s) },
		"clearState": func() { rc.ClearState() },
	}
}

func toResponse(value goja.Value) (*ask.Response, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}

	if s, ok := value.Export().(string); ok {
		return ask.Statement(s), nil
	}

	obj, ok := value.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("scripted: unsupported return value %v", value)
	}
	speech, _ := obj["speech"].(string)
	question, _ := obj["question"].(bool)

	var resp *ask.Response
	if question {
		resp = ask.Question(speech)
	} else {
		resp = ask.Statement(speech)
	}
	if reprompt, ok := obj["reprompt"].(string); ok {
		resp.Reprompt(reprompt)
	}
	return resp, nil
}
