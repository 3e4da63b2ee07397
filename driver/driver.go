// Package driver defines the request/response interface to the Nitro Secure
// Module.  It speaks the nsm package's request and response types, so the
// hardware-backed driver and the dev driver answer identical requests.
package driver

import (
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
)

// Driver processes Nitro Secure Module requests.  Making this an interface
// lets callers swap the hardware-backed driver for the dev driver at
// construction time, so code built for enclaves can run without one.
//
// Implementations must be safe for concurrent use: a driver's configuration
// is fixed at construction time and each request is independent.
type Driver interface {
	ProcessRequest(req request.Request) (response.Response, error)
}
