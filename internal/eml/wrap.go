package eml

import (
	"encoding/base64"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	// TextLineWidth is the display width body text is wrapped at.
	TextLineWidth = 78
	// EncodedLineWidth is the hard limit for encoded payload lines.
	EncodedLineWidth = 998
)

// WrapBody splits every line of body into chunks of at most 78 display
// columns. Lines are joined with CRLF; bare LF line breaks become CRLF.
func WrapBody(body string) string {
	lines := strings.Split(body, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var out []string
	for _, line := range lines {
		out = append(out, chunkByWidth(strings.TrimSuffix(line, "\r"), TextLineWidth)...)
	}
	return strings.Join(out, "\r\n")
}

func chunkByWidth(line string, width int) []string {
	if line == "" {
		return []string{""}
	}
	var (
		chunks []string
		cur    strings.Builder
		w      int
	)
	for _, r := range line {
		rw := runewidth.RuneWidth(r)
		if w+rw > width && cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			w = 0
		}
		cur.WriteRune(r)
		w += rw
	}
	return append(chunks, cur.String())
}

// WrapBase64 encodes data as base64 in lines of at most 998 characters.
func WrapBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	lines := make([]string, 0, len(enc)/EncodedLineWidth+1)
	for len(enc) > EncodedLineWidth {
		lines = append(lines, enc[:EncodedLineWidth])
		enc = enc[EncodedLineWidth:]
	}
	lines = append(lines, enc)
	return strings.Join(lines, "\r\n")
}
