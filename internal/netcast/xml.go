package netcast

import (
	"bytes"
	"encoding/xml"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>`

type authRequest struct {
	XMLName xml.Name `xml:"auth"`
	Type    string   `xml:"type"`
	Value   string   `xml:"value,omitempty"`
}

// commandRequest covers every /roap/api/command body. AppExecute uses either
// Name or Type depending on firmware.
type commandRequest struct {
	XMLName xml.Name `xml:"command"`
	Session string   `xml:"session,omitempty"`
	Name    string   `xml:"name,omitempty"`
	Type    string   `xml:"type,omitempty"`
	Value   string   `xml:"value,omitempty"`
	X       *int     `xml:"x,omitempty"`
	Y       *int     `xml:"y,omitempty"`
	AUID    string   `xml:"auid,omitempty"`
}

type eventRequest struct {
	XMLName xml.Name `xml:"event"`
	Name    string   `xml:"name"`
	Value   string   `xml:"value"`
	Mode    string   `xml:"mode"`
}

func encodeBody(v any) ([]byte, error) {
	encoded, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(xmlHeader) + len(encoded))
	buf.WriteString(xmlHeader)
	buf.Write(encoded)
	return buf.Bytes(), nil
}

// elementTexts returns the trimmed, non-empty text content of every element
// with the given local name, in document order. Parsing is lenient because
// firmware responses are not always well formed; whatever was read before a
// syntax error is returned.
func elementTexts(body []byte, name string, limit int) []string {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false

	var (
		out     []string
		inside  bool
		current strings.Builder
	)
	for {
		tok, err := decoder.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == name {
				inside = true
				current.Reset()
			}
		case xml.CharData:
			if inside {
				current.Write(t)
			}
		case xml.EndElement:
			if inside && t.Name.Local == name {
				inside = false
				if text := strings.TrimSpace(current.String()); text != "" {
					out = append(out, text)
					if limit > 0 && len(out) >= limit {
						return out
					}
				}
			}
		}
	}
}

func firstElementText(body []byte, name string) (string, bool) {
	texts := elementTexts(body, name, 1)
	if len(texts) == 0 {
		return "", false
	}
	return texts[0], true
}
