// Package gemini implements [flume.Provider] for the Google Gemini API.
//
// It wraps the google.golang.org/genai SDK, translating between flume's
// domain types and the Gemini API types. Streaming uses the SDK's iter.Seq2
// iterator, wrapped into the pull-based [flume.Stream] interface. When
// search grounding is enabled, grounding metadata is surfaced as citation
// events.
package gemini

const (
	defaultModel     = "gemini-3.1-pro-preview"
	defaultMaxTokens = 65536
)
