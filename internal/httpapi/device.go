package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/canmetro/turnstiled/internal/turnstile/gateway"
)

// maxRequestBody caps the device request body. A card-scan message is a
// few dozen bytes in either codec, so 4 KiB is generous.
const maxRequestBody = 4096

// DeviceAccessRequest is what the card-reader firmware posts.
type DeviceAccessRequest struct {
	CardID      string `json:"card_id" cbor:"card_id"`
	RequestedAt string `json:"requested_at,omitempty" cbor:"requested_at,omitempty"`
}

// DeviceAccessResponse mirrors the decision back to the reader.
type DeviceAccessResponse struct {
	OK         bool   `json:"ok" cbor:"ok"`
	Granted    bool   `json:"granted" cbor:"granted"`
	User       string `json:"user,omitempty" cbor:"user,omitempty"`
	Reason     string `json:"reason,omitempty" cbor:"reason,omitempty"`
	ServerTime string `json:"server_time" cbor:"server_time"`
}

// isCBOR reports whether the request carries a CBOR payload. Firmware
// builds that can't afford a JSON encoder send application/cbor.
func isCBOR(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/cbor" || ct == "application/octet-stream"
}

func (s *Server) handleDeviceAccess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "could not read request body")
		return
	}

	var req DeviceAccessRequest
	binary := isCBOR(r)
	if binary {
		err = cbor.Unmarshal(body, &req)
	} else {
		dec := json.NewDecoder(strings.NewReader(string(body)))
		dec.DisallowUnknownFields()
		err = dec.Decode(&req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_payload", "invalid request payload")
		return
	}

	decision, err := s.access.HandleCardScan(r.Context(), req.CardID)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidCardID) {
			writeError(w, http.StatusBadRequest, "invalid_card_id", err.Error())
			return
		}
		s.logger.Printf("httpapi: access_request error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	resp := DeviceAccessResponse{
		OK:         true,
		Granted:    decision.Granted,
		User:       decision.User,
		Reason:     decision.Reason,
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if binary {
		writeCBOR(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeCBOR(w http.ResponseWriter, status int, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, "cbor marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
