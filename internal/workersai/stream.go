package workersai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/zhengjr9/chat-relay/internal/chat"
)

// ReadStream decodes Workers AI SSE frames from a chunk stream. Frames may be
// split across chunks at any byte. The sequence ends at "data: [DONE]", at the
// end of the input, or after the first error.
func ReadStream(chunks chat.Stream) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		var pending []byte
		var data []byte
		haveData := false

		// flush emits the event accumulated so far and reports whether
		// decoding should continue.
		flush := func() bool {
			if !haveData {
				return true
			}
			payload := bytes.TrimSpace(data)
			data, haveData = data[:0], false
			if string(payload) == "[DONE]" {
				return false
			}
			var ev StreamEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				yield(StreamEvent{}, fmt.Errorf("decode event: %w", err))
				return false
			}
			return yield(ev, nil)
		}

		for chunk, err := range chunks {
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}
			pending = append(pending, chunk...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := bytes.TrimSuffix(pending[:i], []byte("\r"))
				pending = pending[i+1:]

				if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
					if haveData {
						data = append(data, '\n')
					}
					data = append(data, rest...)
					haveData = true
					continue
				}
				if len(line) == 0 {
					if !flush() {
						return
					}
				}
			}
		}

		if rest := bytes.TrimSpace(pending); len(rest) > 0 {
			if tail, ok := bytes.CutPrefix(rest, []byte("data:")); ok {
				if haveData {
					data = append(data, '\n')
				}
				data = append(data, tail...)
				haveData = true
			}
		}
		flush()
	}
}

// Text yields the response text deltas of a chunk stream.
func Text(chunks chat.Stream) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for ev, err := range ReadStream(chunks) {
			if err != nil {
				yield("", err)
				return
			}
			if ev.Response == "" {
				continue
			}
			if !yield(ev.Response, nil) {
				return
			}
		}
	}
}
