package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// StreamReader parses an NDJSON chat stream and keeps the accumulated text.
type StreamReader struct {
	reader      *bufio.Reader
	accumulator strings.Builder
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream until the final chunk or ctx cancellation. A body
// that ends before the final chunk is an error. An error returned by fn stops
// processing and is returned as-is.
func (s *StreamReader) Process(ctx context.Context, fn func(Chunk) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.readChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &ClientError{Type: ErrTypeStream, Message: "stream ended before completion"}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if chunk == nil {
			continue
		}
		if err := fn(*chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
}

func (s *StreamReader) readChunk() (*Chunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if len(line) == 0 {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &ClientError{Type: ErrTypeStream, Message: "stream interrupted", Cause: err}
		}
	}

	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil, nil
	}

	var resp chatLine
	if err := json.Unmarshal(line, &resp); err != nil {
		// Skip malformed lines
		return nil, nil
	}
	if resp.Error != "" {
		return nil, &ClientError{Type: ErrTypeStream, Message: resp.Error}
	}

	s.accumulator.WriteString(resp.Message.Content)
	chunk := &Chunk{
		Content:     resp.Message.Content,
		Accumulated: s.accumulator.String(),
		Done:        resp.Done,
	}
	if resp.Done {
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}
	return chunk, nil
}

// Accumulated returns all content received so far.
func (s *StreamReader) Accumulated() string {
	return s.accumulator.String()
}
