package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxMessageBytes bounds a single request. Playlists are the largest inputs.
const maxMessageBytes = 4 << 20

var errMessageTooLarge = errors.New("message exceeds size limit")

// readMessage reads one request, either Content-Length framed or a bare JSON
// document terminated by a newline. The bool reports which form was seen so
// replies can use the same one.
func readMessage(r *bufio.Reader) ([]byte, bool, error) {
	line, err := skipBlankLines(r)
	if err != nil {
		return nil, false, err
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		payload, err := readJSONLine(r, line)
		return payload, true, err
	}

	payload, err := readFramed(r, line)
	return payload, false, err
}

func skipBlankLines(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			if err != nil && err != io.EOF {
				return "", err
			}
			return line, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// readJSONLine keeps reading lines until the buffered text is valid JSON, so
// pretty-printed documents are accepted too.
func readJSONLine(r *bufio.Reader, first string) ([]byte, error) {
	buf := bytes.NewBufferString(first)
	for {
		candidate := bytes.TrimSpace(buf.Bytes())
		if json.Valid(candidate) {
			return candidate, nil
		}
		if buf.Len() > maxMessageBytes {
			return nil, errMessageTooLarge
		}
		line, err := r.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			if err == io.EOF && json.Valid(bytes.TrimSpace(buf.Bytes())) {
				return bytes.TrimSpace(buf.Bytes()), nil
			}
			return nil, err
		}
	}
}

func readFramed(r *bufio.Reader, first string) ([]byte, error) {
	contentLength := -1
	line := first
	for {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if key, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			parsed, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || parsed < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
			}
			contentLength = parsed
		}

		next, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = next
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	if contentLength > maxMessageBytes {
		return nil, errMessageTooLarge
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeMessage(w *bufio.Writer, payload []byte, jsonLine bool) error {
	if jsonLine {
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		return w.Flush()
	}

	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}
