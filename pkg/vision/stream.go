package vision

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Fragments is a read-only, ordered sequence of streamed content fragments.
// Recv returns io.EOF when the stream is complete; the caller must Close
// when done.
type Fragments interface {
	Recv() (string, error)
	Close() error
}

// Stream reads content fragments from a server-sent-events response body.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// streamChunk mirrors one SSE data payload of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Recv returns the next non-empty content fragment. It returns io.EOF once
// the stream terminator arrives or the body ends; any other read failure is
// reported as a transient network-class error.
func (s *Stream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return "", io.EOF
			}
			return "", networkError(err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", &APIError{
				ErrorClass: ErrorClassServer,
				Message:    "malformed stream chunk",
				Err:        err,
			}
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}
