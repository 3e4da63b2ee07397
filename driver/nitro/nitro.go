// Package nitro implements the driver interface by drawing on the AWS Nitro
// hypervisor.  It only works inside an authentic Nitro Enclave.
package nitro

import (
	"errors"

	"github.com/Amnesic-Systems/nsmdev/driver"
	"github.com/Amnesic-Systems/nsmdev/internal/errs"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
)

var _ driver.Driver = (*Driver)(nil)

var errClosed = errors.New("session to Nitro Secure Module is closed")

// Driver holds a session to the Nitro Secure Module.  The session is an
// exclusive resource: it is acquired once, at construction, and released
// exactly once, by Close.
type Driver struct {
	session *nsm.Session
}

// Open acquires a session to the Nitro Secure Module.
func Open() (_ *Driver, err error) {
	defer errs.Wrap(&err, "failed to open session to Nitro Secure Module")

	session, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, err
	}
	return &Driver{session: session}, nil
}

// ProcessRequest forwards the given request verbatim to the Nitro Secure
// Module.  The driver never inspects payloads.
func (d *Driver) ProcessRequest(req request.Request) (response.Response, error) {
	if d.session == nil {
		return response.Response{}, errClosed
	}
	return d.session.Send(req)
}

// Close releases the session.  It must be called exactly once; subsequent
// calls return an error.
func (d *Driver) Close() error {
	if d.session == nil {
		return errClosed
	}
	err := d.session.Close()
	d.session = nil
	return err
}
