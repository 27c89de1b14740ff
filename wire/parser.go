package wire

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/flumechat/flume"
)

// Result is the latest fully-decodable view of the stream: visible text
// with all protocol framing stripped, plus the metadata extracted so far.
// ContentChanged and CitationsChanged let callers skip redundant repaints.
type Result struct {
	DisplayText        string
	Citations          []flume.Citation
	Action             string
	Thinking           string
	Transcript         *flume.Transcript
	ThreadID           string
	HasReceivedContent bool

	ContentChanged   bool
	CitationsChanged bool
}

// Parser incrementally decodes the wire protocol. Chunks may be split at
// arbitrary byte boundaries — inside a UTF-8 code point, inside a marker,
// inside the JSON payload. The parser therefore re-runs extraction over the
// entire accumulated text on every chunk instead of parsing incrementally;
// extraction is a pure function of the accumulated text, so reprocessing is
// idempotent.
type Parser struct {
	text    strings.Builder // accumulated decoded text
	pending []byte          // undecoded tail: a possibly-incomplete UTF-8 sequence

	hasReceived bool // monotonic once true
	finalized   bool
	legacy      bool // apply the bare-JSON-tail fallback (non-streaming only)

	prev Result
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// ProcessChunk appends raw bytes from the transport and returns the updated
// view. Feeding an empty chunk changes nothing.
func (p *Parser) ProcessChunk(chunk []byte) Result {
	p.decode(chunk)
	return p.extract()
}

// Finalize flushes the decoder's internal buffer and settles the view.
// When streaming is false it additionally recognizes the legacy fallback:
// a complete bare JSON object at the very end of the text is interpreted as
// the metadata envelope of a non-streamed response. Finalizing twice is a
// no-op.
func (p *Parser) Finalize(streaming bool) Result {
	if p.finalized {
		r := p.prev
		r.ContentChanged = false
		r.CitationsChanged = false
		return r
	}
	p.finalized = true

	// Whatever is still pending can no longer become a valid sequence.
	if len(p.pending) > 0 {
		p.text.Write(p.pending)
		p.pending = nil
	}

	p.legacy = !streaming
	return p.extract()
}

// decode appends chunk to the text, holding back a trailing incomplete
// multi-byte sequence until its continuation bytes arrive.
func (p *Parser) decode(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := append(p.pending, chunk...)
	cut := completeBoundary(buf)
	p.text.Write(buf[:cut])
	p.pending = append([]byte(nil), buf[cut:]...)
}

// completeBoundary returns the length of the longest prefix of buf that
// does not end mid-rune. Only the final rune can be incomplete, so at most
// utf8.UTFMax-1 trailing bytes are held back.
func completeBoundary(buf []byte) int {
	n := len(buf)
	for back := 1; back < utf8.UTFMax && back <= n; back++ {
		b := buf[n-back]
		if b < utf8.RuneSelf {
			return n // ASCII tail, nothing pending
		}
		if utf8.RuneStart(b) {
			if utf8.FullRune(buf[n-back:]) {
				return n
			}
			return n - back
		}
	}
	return n
}

// extract re-derives the full view from the accumulated text.
func (p *Parser) extract() Result {
	raw := p.text.String()

	var visible strings.Builder
	var meta extractedMeta
	textAfterEnvelope := false

	rest := raw
	for {
		start := strings.Index(rest, MetadataStart)
		if start < 0 {
			visible.WriteString(rest)
			if strings.TrimSpace(rest) != "" {
				textAfterEnvelope = textAfterEnvelope || meta.seen
			}
			break
		}

		before := strings.TrimSuffix(rest[:start], metadataSeparator)
		visible.WriteString(before)
		if strings.TrimSpace(before) != "" && meta.seen {
			textAfterEnvelope = true
		}

		tail := rest[start+len(MetadataStart):]
		end := strings.Index(tail, MetadataEnd)
		if end < 0 {
			// Envelope opened but not yet closed: hide it from the
			// visible view until the end marker arrives.
			break
		}

		meta.apply(tail[:end])
		textAfterEnvelope = false
		rest = tail[end+len(MetadataEnd):]
	}

	display := visible.String()

	if !p.finalized {
		// A chunk may end mid-marker. Hold the ambiguous tail out of the
		// visible view until the next bytes settle whether it is prose or
		// an envelope opening; showing it would paint delimiter bytes and
		// then retract them.
		display = display[:len(display)-markerHoldback(display)]
	}

	if p.legacy {
		display = p.applyLegacyTail(display, &meta)
	}

	action := meta.action
	if textAfterEnvelope || p.finalized {
		// The label names in-progress work; prose after the envelope (or
		// end of stream) means that work is done.
		action = ""
	}

	if display != "" {
		p.hasReceived = true
	}

	res := Result{
		DisplayText:        display,
		Citations:          meta.citations,
		Action:             action,
		Thinking:           meta.thinking,
		Transcript:         meta.transcript,
		ThreadID:           meta.threadID,
		HasReceivedContent: p.hasReceived,
	}
	res.ContentChanged = res.DisplayText != p.prev.DisplayText || res.Action != p.prev.Action
	res.CitationsChanged = !citationsEqual(res.Citations, p.prev.Citations)
	p.prev = res
	return res
}

// applyLegacyTail implements the non-streaming fallback: a balanced JSON
// object at the literal end of the text is decoded as the envelope and
// stripped from the display text. The brace-balance check is a heuristic
// with no escaping guarantee; it is kept for compatibility with the legacy
// non-streaming path.
func (p *Parser) applyLegacyTail(display string, meta *extractedMeta) string {
	trimmed := strings.TrimRight(display, " \t\n")
	if !strings.HasSuffix(trimmed, "}") {
		return display
	}
	depth := 0
	inString := false
	escaped := false
	for i := len(trimmed) - 1; i >= 0; i-- {
		c := trimmed[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '"' && (i == 0 || trimmed[i-1] != '\\') {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '}':
			depth++
		case c == '{':
			depth--
			if depth == 0 {
				candidate := trimmed[i:]
				var m flume.Metadata
				if json.Unmarshal([]byte(candidate), &m) == nil {
					meta.applyMetadata(m)
					return strings.TrimRight(trimmed[:i], " \t\n")
				}
				return display
			}
		}
	}
	return display
}

// markerHoldback returns the length of the longest suffix of s that could
// still grow into a metadata start marker, with or without the preceding
// blank line. A complete marker never reaches here: extraction consumes it.
func markerHoldback(s string) int {
	held := 0
	for _, candidate := range []string{metadataSeparator + MetadataStart, MetadataStart} {
		limit := min(len(s), len(candidate))
		for n := limit; n > held; n-- {
			if strings.HasSuffix(s, candidate[:n]) {
				held = n
				break
			}
		}
	}
	return held
}

// extractedMeta accumulates envelope fields across multiple envelopes.
// Precedence is fixed: a later envelope's field wins only when it is
// non-zero, so an action-only envelope does not erase earlier citations.
type extractedMeta struct {
	seen       bool
	citations  []flume.Citation
	action     string
	thinking   string
	threadID   string
	transcript *flume.Transcript
}

func (m *extractedMeta) apply(payload string) {
	var decoded flume.Metadata
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		// Malformed metadata must never surface as a client error; the
		// envelope is simply ignored.
		return
	}
	m.applyMetadata(decoded)
}

func (m *extractedMeta) applyMetadata(decoded flume.Metadata) {
	m.seen = true
	if len(decoded.Citations) > 0 {
		m.citations = decoded.Citations
	}
	if decoded.Action != "" {
		m.action = decoded.Action
	}
	if decoded.Thinking != "" {
		m.thinking = decoded.Thinking
	}
	if decoded.ThreadID != "" {
		m.threadID = decoded.ThreadID
	}
	if decoded.Transcript != nil {
		m.transcript = decoded.Transcript
	}
}

func citationsEqual(a, b []flume.Citation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
