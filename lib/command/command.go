package command

import (
	"github.com/google/uuid"
	"github.com/stratadb/strata/lib/outbound"
)

// --------------------------------------------------------------------------
// Fixed Status Lines
// --------------------------------------------------------------------------

// Status lines set by the pipeline itself. Plugins pick their own codes from
// the taxonomy documented in the package docs.
const (
	StatusOK             = "200 OK"
	StatusLeaderRequired = "303 Leader required"
	StatusUnrecognized   = "430 Unrecognized command"
	StatusAborted        = "500 ABORTED"
	StatusUnhandled      = "500 Unhandled exception"
	StatusBeginFailed    = "501 Failed to begin transaction"
	StatusPrepareFailed  = "501 Failed to prepare transaction"
)

// MethodUpgradeDatabase is the reserved method a node issues to itself once
// after it becomes leader, before serving ordinary write traffic. It is
// matched case-insensitively and dispatched to every enabled plugin's schema
// upgrade hook instead of the normal claim-based dispatch.
const MethodUpgradeDatabase = "UpgradeDatabase"

// --------------------------------------------------------------------------
// Request / Response
// --------------------------------------------------------------------------

// Request is the parsed client input. It is treated as immutable once
// constructed: the pipeline and plugins only read it.
type Request struct {
	Method  string
	Headers *Table
	Body    string
}

// NewRequest creates a Request with the given method line and an empty
// header table.
func NewRequest(method string) *Request {
	return &Request{Method: method, Headers: NewTable()}
}

// Response is the mutable output of a command. Status holds the full
// "<code> <short reason>" line.
type Response struct {
	Status  string
	Headers *Table
	Body    string
}

// NewResponse creates an empty Response.
func NewResponse() *Response {
	return &Response{Headers: NewTable()}
}

// --------------------------------------------------------------------------
// Command
// --------------------------------------------------------------------------

// Command is one request/response exchange moving through the node pipeline.
//
// Content is populated by at most one plugin per phase and serialized into
// the response body at most once; an overwrite with differing data is logged
// as a warning by the pipeline but still replaces the body (last writer
// wins).
//
// SubRequest, when non-nil, is an outbound transaction exclusively owned by
// this command. A command with a live sub-request is not yet final; the
// scheduler resubmits it once the sub-request completes, and Clean releases
// it before the command is destroyed.
type Command struct {
	ID         string
	Request    *Request
	Response   *Response
	Content    *Table
	SubRequest *outbound.Transaction
}

// New creates a Command for the given request with a fresh unique ID.
func New(req *Request) *Command {
	if req.Headers == nil {
		req.Headers = NewTable()
	}
	return &Command{
		ID:       uuid.NewString(),
		Request:  req,
		Response: NewResponse(),
		Content:  NewTable(),
	}
}
