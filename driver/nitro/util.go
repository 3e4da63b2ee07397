package nitro

import "github.com/hf/nsm/request"

// IsEnclave returns true if the current process is running in an enclave.
func IsEnclave() bool {
	// The most straightforward way to determine if we're running in an
	// enclave is to try and request an attestation document.
	d, err := Open()
	if err != nil {
		return false
	}
	defer func() { _ = d.Close() }()

	resp, err := d.ProcessRequest(&request.Attestation{})
	if err != nil {
		return false
	}
	return resp.Attestation != nil && resp.Attestation.Document != nil
}
