package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
)

// UnmarshalJSON accepts a missing messages field as an empty conversation and
// rejects a null field or null elements.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Messages == nil {
		r.Messages = []Message{}
		return nil
	}
	var msgs []*Message
	if err := json.Unmarshal(raw.Messages, &msgs); err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	if msgs == nil {
		return errors.New("messages must not be null")
	}
	r.Messages = make([]Message, len(msgs))
	for i, m := range msgs {
		if m == nil {
			return fmt.Errorf("messages[%d] must not be null", i)
		}
		r.Messages[i] = *m
	}
	return nil
}

// decodeRequest reads exactly one JSON object from r. A missing messages
// field yields an empty, non-nil slice.
func decodeRequest(r io.Reader) (*Request, error) {
	dec := json.NewDecoder(r)
	var req *Request
	if err := dec.Decode(&req); err != nil {
		return nil, bodyError(err)
	}
	if req == nil {
		return nil, bodyError(errors.New("body must be a JSON object, got null"))
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after JSON object")
		}
		return nil, bodyError(err)
	}
	return req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit %d bytes", apierrors.ErrBodyTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %w", apierrors.ErrMalformedBody, err)
}
