package adapter

import (
	"bufio"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Delta is one unit of normalized assistant output.
type Delta struct {
	Content string `json:"content"`
}

// scanBufferSize accommodates single SSE events carrying large inline
// payloads.
const scanBufferSize = 10 * 1024 * 1024

// DeltaStream reads an upstream SSE body and yields normalized content
// deltas over a channel. The stream ends when the upstream body closes;
// malformed lines are skipped silently. It is not restartable.
type DeltaStream struct {
	deltas chan Delta
	body   io.ReadCloser

	done      chan struct{}
	closeOnce sync.Once
}

// NewDeltaStream starts consuming the body in a background goroutine.
// The body is closed when the stream ends or Close is called.
func NewDeltaStream(body io.ReadCloser) *DeltaStream {
	s := &DeltaStream{
		deltas: make(chan Delta),
		body:   body,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Deltas returns the channel of normalized output units. It is closed when
// the upstream stream ends.
func (s *DeltaStream) Deltas() <-chan Delta {
	return s.deltas
}

// Close aborts the stream. Closing the body unblocks a pending read; the
// done channel unblocks a reader goroutine parked on a channel send.
func (s *DeltaStream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if errClose := s.body.Close(); errClose != nil {
			log.Debugf("failed to close upstream body: %v", errClose)
		}
	})
}

func (s *DeltaStream) run() {
	defer close(s.deltas)
	defer func() {
		if errClose := s.body.Close(); errClose != nil {
			log.Debugf("failed to close upstream body: %v", errClose)
		}
	}()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 1024*1024), scanBufferSize)
	for scanner.Scan() {
		content, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case s.deltas <- Delta{Content: content}:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		// Abrupt termination simply ends iteration; the consumer decides
		// whether a premature close matters.
		log.Debugf("upstream stream ended: %v", err)
	}
}

// ParseSSELine extracts the assistant text carried by one SSE line. The
// optional "data: " prefix is stripped, the "[DONE]" sentinel and anything
// that fails to parse as JSON are skipped, an outer {response: ...} envelope
// is unwrapped, and text parts flagged as thoughts are excluded. ok is false
// when the line yields no content.
func ParseSSELine(line string) (content string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	line = strings.TrimPrefix(line, "data: ")
	if line == "[DONE]" {
		return "", false
	}
	if !gjson.Valid(line) {
		return "", false
	}

	root := gjson.Parse(line)
	if response := root.Get("response"); response.Exists() {
		root = response
	}

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return "", false
	}

	var sb strings.Builder
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		sb.WriteString(part.Get("text").String())
		return true
	})

	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}
