package main

import (
	"fmt"
	"log"
	"time"

	"github.com/echokit/echokit/ask"
	"github.com/echokit/echokit/templates"
)

// playlist is the audio demo's fixed queue. Tokens are the track
// indices, so playback events can be correlated without a lookup table.
var playlist = []string{
	"https://audio.example.com/tracks/01-overture.mp3",
	"https://audio.example.com/tracks/02-interlude.mp3",
	"https://audio.example.com/tracks/03-finale.mp3",
}

// registerDemo wires the hello-world and playlist handlers onto skill.
// When templatesPath is set, speech copy is rendered from that file;
// otherwise built-in copy is used.
func registerDemo(skill *ask.Skill, templatesPath string, logger *log.Logger) error {
	speak := func(name string, data any) string { return builtinCopy[name] }
	if templatesPath != "" {
		store, err := templates.Load(templatesPath)
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
		speak = func(name string, data any) string {
			text, err := store.Render(name, data)
			if err != nil {
				logger.Printf("[Demo] template %q: %v", name, err)
				return builtinCopy[name]
			}
			return text
		}
	}

	skill.OnLaunch(func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		return ask.Question(speak("welcome", nil)).Reprompt(speak("reprompt", nil)), nil
	})

	skill.OnIntent("HelloIntent", func(rc *ask.ReqContext, args []any) (*ask.Response, error) {
		name, _ := args[0].(string)
		if name == "" {
			name = "world"
		}
		speech := speak("hello", map[string]any{"name": name})
		return ask.Statement(speech).SimpleCard("Hello", speech), nil
	}, ask.Params("name"), ask.MapTo("name", "FirstName"))

	skill.OnIntent("BirthdayIntent", func(rc *ask.ReqContext, args []any) (*ask.Response, error) {
		born, ok := args[0].(time.Time)
		if !ok {
			return ask.Question(speak("birthday_retry", nil)), nil
		}
		return ask.Statement(fmt.Sprintf("Noted. You were born on %s.",
			born.Format("January 2, 2006"))), nil
	}, ask.Params("date"), ask.MapTo("date", "Birthday"), ask.Convert("date", "date"))

	registerPlaylist(skill, logger)

	skill.OnSessionEnded(func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		logger.Printf("[Demo] session ended for %s", rc.UserID())
		return nil, nil
	})
	return nil
}

// registerPlaylist wires the audio-player portion of the demo: start,
// pause/resume/stop via the built-in intents, and queue advancement
// driven by playback lifecycle events.
func registerPlaylist(skill *ask.Skill, logger *log.Logger) {
	skill.OnIntent("PlaylistIntent", func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		resp := ask.Audio("Starting the playlist.").
			Play(playlist[0], ask.OpaqueToken(trackToken(0)))
		return resp, nil
	})

	skill.OnIntent("AMAZON.PauseIntent", func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		return ask.Audio("").Stop(), nil
	})
	skill.OnIntent("AMAZON.ResumeIntent", func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		if rc.CurrentStream().URL == "" {
			return ask.Statement("There is nothing to resume."), nil
		}
		return ask.Audio("").Resume(), nil
	})
	skill.OnIntent("AMAZON.StopIntent", func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		return ask.Audio("Goodbye.").ClearQueue(true), nil
	})
	skill.OnIntent("AMAZON.NextIntent", func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		next, ok := nextTrack(rc.CurrentStream().Token)
		if !ok {
			return ask.Statement("That was the last track."), nil
		}
		return ask.Audio("").Play(playlist[next], ask.OpaqueToken(trackToken(next))), nil
	})

	// Queue the following track as soon as the current one nears its
	// end, so playback is gapless.
	skill.OnPlayback(ask.TypePlaybackNearlyFinished, func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		next, ok := nextTrack(rc.CurrentStream().Token)
		if !ok {
			return nil, nil
		}
		return ask.Audio("").Enqueue(playlist[next], ask.OpaqueToken(trackToken(next))), nil
	})
	skill.OnPlayback(ask.TypePlaybackStarted, func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		logger.Printf("[Demo] playback started: token=%s", rc.CurrentStream().Token)
		return nil, nil
	})
	skill.OnPlayback(ask.TypePlaybackFailed, func(rc *ask.ReqContext, _ []any) (*ask.Response, error) {
		logger.Printf("[Demo] playback failed: token=%s", rc.CurrentStream().Token)
		return nil, nil
	})
}

func trackToken(index int) string {
	return fmt.Sprintf("track-%d", index)
}

// nextTrack parses a track token and returns the following index.
func nextTrack(token string) (int, bool) {
	var index int
	if _, err := fmt.Sscanf(token, "track-%d", &index); err != nil {
		return 0, false
	}
	next := index + 1
	if next >= len(playlist) {
		return 0, false
	}
	return next, true
}

var builtinCopy = map[string]string{
	"welcome":        "Welcome to the echo kit demo. Say hello, or ask for the playlist.",
	"reprompt":       "You can say hello, or say play the playlist.",
	"hello":          "Hello there.",
	"birthday_retry": "Sorry, I did not catch the date. When were you born?",
}
