package command

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Wire Format
// --------------------------------------------------------------------------

// The wire format is line-oriented plaintext: a first line (method line for
// requests, status line for responses), zero or more "Key: value" header
// lines, a blank line, then an optional body whose length is given by the
// Content-Length header. Lines end with CRLF on the wire; a bare LF is
// accepted on parse.

// maxContentLength bounds the body size accepted from a peer.
const maxContentLength = 64 << 20

const headerContentLength = "Content-Length"

// ParseRequest reads one request from br. It returns io.EOF unchanged if the
// stream ends cleanly before any bytes of a request are read.
func ParseRequest(br *bufio.Reader) (*Request, error) {
	first, headers, body, err := parseMessage(br)
	if err != nil {
		return nil, err
	}
	return &Request{Method: first, Headers: headers, Body: body}, nil
}

// ParseResponse reads one response from br. It returns io.EOF unchanged if
// the stream ends cleanly before any bytes of a response are read.
func ParseResponse(br *bufio.Reader) (*Response, error) {
	first, headers, body, err := parseMessage(br)
	if err != nil {
		return nil, err
	}
	return &Response{Status: first, Headers: headers, Body: body}, nil
}

// Serialize renders the request in wire format.
func (r *Request) Serialize() []byte {
	return serializeMessage(r.Method, r.Headers, r.Body)
}

// Serialize renders the response in wire format.
func (r *Response) Serialize() []byte {
	return serializeMessage(r.Status, r.Headers, r.Body)
}

// --------------------------------------------------------------------------
// Shared Codec
// --------------------------------------------------------------------------

func parseMessage(br *bufio.Reader) (first string, headers *Table, body string, err error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", nil, "", io.EOF
		}
		return "", nil, "", fmt.Errorf("reading first line: %w", err)
	}
	first = strings.TrimRight(line, "\r\n")
	if first == "" {
		return "", nil, "", fmt.Errorf("empty first line")
	}

	headers = NewTable()
	for {
		line, err = br.ReadString('\n')
		if err != nil {
			return "", nil, "", fmt.Errorf("reading headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", nil, "", fmt.Errorf("malformed header line %q", line)
		}
		headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	length := headers.Int64(headerContentLength)
	if length < 0 || length > maxContentLength {
		return "", nil, "", fmt.Errorf("content length %d out of range", length)
	}
	if length > 0 {
		buf := make([]byte, length)
		if _, err = io.ReadFull(br, buf); err != nil {
			return "", nil, "", fmt.Errorf("reading body: %w", err)
		}
		body = string(buf)
	}
	return first, headers, body, nil
}

func serializeMessage(first string, headers *Table, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString(first)
	buf.WriteString("\r\n")
	if headers != nil {
		for _, key := range headers.Keys() {
			// the codec owns Content-Length
			if strings.EqualFold(key, headerContentLength) {
				continue
			}
			value, _ := headers.Get(key)
			buf.WriteString(key)
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.WriteString("\r\n")
		}
	}
	if body != "" {
		buf.WriteString(headerContentLength)
		buf.WriteString(": ")
		buf.WriteString(strconv.Itoa(len(body)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
