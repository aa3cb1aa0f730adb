// Package fleeterr defines the error taxonomy shared by the registry,
// router, and babysitter. Errors are classified by kind so that HTTP
// handlers and retry loops can branch on errors.Is without caring about
// the concrete type that produced them.
package fleeterr

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", Kind) at the call
// site to attach context; callers compare with errors.Is.
var (
	// BadRequest is a malformed or incomplete client payload. Never retried.
	BadRequest = errors.New("bad_request")

	// NotFound is a named entity absent from the directory.
	NotFound = errors.New("not_found")

	// Conflict is a live-name collision on registration.
	Conflict = errors.New("conflict")

	// TransportError is a connect/read failure to the registry or a backend.
	// Recovered locally by retry with backoff; surfaced as bad_gateway only
	// when a client request aborts mid-flight.
	TransportError = errors.New("transport_error")

	// DeadlineExceeded is an outbound call that timed out.
	DeadlineExceeded = errors.New("deadline_exceeded")

	// ServiceUnavailable means no healthy backend supports the requested model.
	ServiceUnavailable = errors.New("service_unavailable")

	// Internal is an invariant violation or unexpected state.
	Internal = errors.New("internal")

	// ConfigError is malformed configuration at startup. Fatal.
	ConfigError = errors.New("config_error")
)

// Is reports whether err is classified as kind anywhere in its chain.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
