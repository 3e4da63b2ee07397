package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hf/nsm/request"

	"github.com/Amnesic-Systems/nsmdev/attestation"
	"github.com/Amnesic-Systems/nsmdev/driver"
	"github.com/Amnesic-Systems/nsmdev/internal/nonce"
)

// ParamNonce is the URL query parameter holding the client's nonce.
const ParamNonce = "nonce"

var (
	errNoNonce        = errors.New("could not find nonce in URL query parameters")
	errBadNonceFormat = errors.New("unexpected nonce format; must be Base64 string")
)

// httpErr is the JSON envelope for application layer errors.
type httpErr struct {
	Msg string `json:"error"`
}

func encode[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode JSON", http.StatusInternalServerError)
	}
}

// extractNonce extracts a nonce from the request's query parameters, e.g.:
// http://example.com/attestation?nonce=jtEcS7icZiwF5GMvmvnjuZ9xjcc%3D
func extractNonce(r *http.Request) (*nonce.Nonce, error) {
	strNonce := r.URL.Query().Get(ParamNonce)
	if strNonce == "" {
		return nil, errNoNonce
	}
	rawNonce, err := base64.StdEncoding.DecodeString(strNonce)
	if err != nil {
		return nil, errBadNonceFormat
	}
	return nonce.FromSlice(rawNonce)
}

// attestationHandler asks the driver for an attestation document that embeds
// the client's nonce.  A missing or malformed nonce is rejected because the
// client would have no way to verify the document's freshness.
func attestationHandler(drv driver.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := extractNonce(r)
		if err != nil {
			encode(w, http.StatusBadRequest, httpErr{Msg: err.Error()})
			return
		}

		resp, err := drv.ProcessRequest(&request.Attestation{
			Nonce: n.ToSlice(),
		})
		if err != nil {
			encode(w, http.StatusInternalServerError, httpErr{Msg: err.Error()})
			return
		}
		if resp.Error != "" {
			encode(w, http.StatusInternalServerError, httpErr{
				Msg: fmt.Sprintf("driver returned error code %q", resp.Error),
			})
			return
		}
		if resp.Attestation == nil || len(resp.Attestation.Document) == 0 {
			encode(w, http.StatusInternalServerError, httpErr{
				Msg: "driver returned no attestation document",
			})
			return
		}

		encode(w, http.StatusOK, attestation.RawDocument{
			Doc: resp.Attestation.Document,
		})
	}
}
