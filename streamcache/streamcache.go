// Package streamcache tracks audio stream descriptors across webhook
// requests. Each user owns a small stack of streams; the top of the stack
// is the stream the device is currently playing or was most recently
// handed in a play directive.
package streamcache

import "context"

// Stream describes one audio playback session.
type Stream struct {
	Token                 string `json:"token,omitempty"`
	URL                   string `json:"url,omitempty"`
	OffsetInMilliseconds  int64  `json:"offsetInMilliseconds"`
	PlayerActivity        string `json:"playerActivity,omitempty"`
	ExpectedPreviousToken string `json:"expectedPreviousToken,omitempty"`
}

// IsZero reports whether the stream carries no data at all.
func (s Stream) IsZero() bool {
	return s.Token == "" && s.URL == "" && s.OffsetInMilliseconds == 0 &&
		s.PlayerActivity == "" && s.ExpectedPreviousToken == ""
}

// Store is the backing key-value store for per-user stream stacks.
// Implementations live in the drivers subpackage.
type Store interface {
	// Get returns the stack for key, or nil if the key is absent.
	Get(ctx context.Context, key string) ([]Stream, error)
	// Set replaces the stack stored under key.
	Set(ctx context.Context, key string, stack []Stream) error
	// Delete removes the key and its stack.
	Delete(ctx context.Context, key string) error
}

// Push appends stream to the user's stack. A zero stream is a no-op and
// returns false, so empty event data never clobbers a tracked stream.
func Push(ctx context.Context, store Store, key string, stream Stream) (bool, error) {
	if stream.IsZero() {
		return false, nil
	}
	stack, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	stack = append(stack, stream)
	if err := store.Set(ctx, key, stack); err != nil {
		return false, err
	}
	return true, nil
}

// Pop removes and returns the top of the user's stack. The key is deleted
// outright when the pop empties the stack.
func Pop(ctx context.Context, store Store, key string) (Stream, bool, error) {
	stack, err := store.Get(ctx, key)
	if err != nil || len(stack) == 0 {
		return Stream{}, false, err
	}
	top := stack[len(stack)-1]
	rest := stack[:len(stack)-1]
	if len(rest) == 0 {
		err = store.Delete(ctx, key)
	} else {
		err = store.Set(ctx, key, rest)
	}
	if err != nil {
		return Stream{}, false, err
	}
	return top, true, nil
}

// SetCurrent discards the user's history and stores stream as the only
// entry. Used when a brand-new stream starts. Zero streams are ignored.
func SetCurrent(ctx context.Context, store Store, key string, stream Stream) error {
	if stream.IsZero() {
		return nil
	}
	return store.Set(ctx, key, []Stream{stream})
}

// Peek returns the top of the user's stack without mutating it. An empty
// key returns no stream rather than hitting the backend, which guards
// against stores that reject empty keys.
func Peek(ctx context.Context, store Store, key string) (Stream, bool, error) {
	if key == "" {
		return Stream{}, false, nil
	}
	stack, err := store.Get(ctx, key)
	if err != nil || len(stack) == 0 {
		return Stream{}, false, err
	}
	return stack[len(stack)-1], true, nil
}
