package client

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 64 * 1024

// readEvents parses a text/event-stream body and calls fn for every complete
// event. Comment lines and unknown fields are skipped. It returns the read
// error, or io.EOF when the server ended the stream.
func readEvents(r io.Reader, onLine func(), fn func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var event string
	var data []string
	for scanner.Scan() {
		if onLine != nil {
			onLine()
		}
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
