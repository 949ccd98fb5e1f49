// Package command defines the unit of work of a strata node: one client
// request/response exchange, carried through the peek/process pipeline and
// answered with a structured status line.
//
// Key Components:
//
//   - Request: the immutable parsed input — a method identifier line, an
//     insertion-ordered header table and a raw body. Requests are parsed from
//     and serialized to the plaintext wire format (method line, "Key: value"
//     header lines, a blank line, then a body delimited by Content-Length).
//
//   - Response: the mutable output — a status line of the form
//     "<code> <short reason>", a header table and a raw body. Only the
//     pipeline and at most one plugin per phase mutate the response.
//
//   - Table: an insertion-ordered key/value mapping with case-insensitive
//     lookup, used for request headers, response headers and structured
//     result content. ComposeJSON renders a table as a JSON object in
//     insertion order so that repeated serialization is byte-stable.
//
//   - Command: ties a Request, a Response, the result Content table and an
//     optional outbound sub-request together with a unique ID.
//
//   - Error: the explicit error value used to signal a failure whose text
//     becomes the response status line. Plugins return *Error (or any error,
//     which the pipeline converts to "500 Unhandled exception").
//
// Response Status Taxonomy:
//
// All commands answer with a code from one of four classes. The class, not
// the individual code, is the contract with clients:
//
//   - 2xx: the request was valid and accepted ("200 OK").
//   - 3xx: the request was valid but declined for some reason short of
//     failure — duplicate, rate limited, pre-condition failed
//     ("303 Leader required").
//   - 4xx: the request was valid but the outcome is a rejection —
//     unauthorized, not found, wrong state, insufficient privilege
//     ("404 Resource doesn't exist", "405 Resource in incorrect state",
//     "430 Unrecognized command").
//   - 5xx: the server experienced an internal failure and it is unknown
//     whether the request was valid — transaction failure, query failure,
//     downstream vendor error, timeout ("500 Unknown server failure",
//     "501 Transaction failure", "502 Failed to execute query",
//     "509 Operation timed out").
//
// New error call sites must pick a code from this taxonomy. A status line may
// additionally embed one of the literal markers _ALERT_, _WARN_ or _HMMM_ to
// steer operational log severity (see the node package's classifier).
package command
