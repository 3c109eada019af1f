package upstream

import (
	"bufio"
	"io"
	"strings"
)

// maxEventLine bounds a single SSE line. Completion chunks are small but some
// providers pad them with usage and logprob payloads.
const maxEventLine = 1 << 20

// eventReader splits a text/event-stream body into event payloads. Only the
// "data" field matters for chat completions; comments, ids, retry hints and
// event names are dropped.
type eventReader struct {
	scanner *bufio.Scanner
	data    []string
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &eventReader{scanner: scanner}
}

// next returns the payload of the next event. It returns io.EOF when the
// body ends; a trailing event without a blank line is still delivered.
func (er *eventReader) next() (string, error) {
	er.data = er.data[:0]

	for er.scanner.Scan() {
		line := strings.TrimSuffix(er.scanner.Text(), "\r")

		if line == "" {
			if len(er.data) > 0 {
				return strings.Join(er.data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		er.data = append(er.data, strings.TrimPrefix(value, " "))
	}

	if err := er.scanner.Err(); err != nil {
		return "", err
	}
	if len(er.data) > 0 {
		payload := strings.Join(er.data, "\n")
		er.data = er.data[:0]
		return payload, nil
	}
	return "", io.EOF
}
