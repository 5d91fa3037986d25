package network

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// Scheme is the URI scheme of references produced by a Publisher.
const Scheme = "zmq+tcp"

// MaxHeaderSize bounds the size of a request header frame.
const MaxHeaderSize = 64 << 10

// Request operations.
const (
	OpStat = "stat"
	OpRead = "read"
)

// Protocol errors
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBadReference = errors.New("bad reference")
)

// Request is the header frame sent by a Fetcher.
type Request struct {
	Op       string `json:"op"`
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	Offset   int64  `json:"offset,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Token    string `json:"token,omitempty"`
	Compress bool   `json:"compress,omitempty"`
}

// Reply is the header frame answering a Request. The payload frame follows
// it; it is empty for stat and for errors.
type Reply struct {
	Seq        uint64 `json:"seq"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Size       int64  `json:"size"` // file size for stat, raw payload size for read
	EOF        bool   `json:"eof,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// ParseRequest decodes and validates a request header.
func ParseRequest(data []byte) (*Request, error) {
	if len(data) > MaxHeaderSize {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds %d", ErrBadRequest, len(data), MaxHeaderSize)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	switch req.Op {
	case OpStat, OpRead:
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrBadRequest, req.Op)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing object id", ErrBadRequest)
	}
	if req.Offset < 0 || req.Size < 0 {
		return nil, fmt.Errorf("%w: negative offset or size", ErrBadRequest)
	}
	return &req, nil
}

// FormatReference returns the reference of object id served at host:port.
func FormatReference(host string, port int, id string) string {
	return fmt.Sprintf("%s://%s/%s", Scheme, joinHostPort(host, port), id)
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ParseReference splits a reference into the ZeroMQ endpoint to dial and
// the object id.
func ParseReference(ref string) (endpoint, id string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadReference, err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("%w: scheme %q, want %q", ErrBadReference, u.Scheme, Scheme)
	}
	if u.Host == "" || u.Port() == "" {
		return "", "", fmt.Errorf("%w: %q has no host and port", ErrBadReference, ref)
	}
	id = strings.TrimPrefix(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: %q has no object id", ErrBadReference, ref)
	}
	return "tcp://" + u.Host, id, nil
}
