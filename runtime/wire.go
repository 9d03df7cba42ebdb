package runtime

import (
	"encoding/json"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/transport"
)

// callPayload is the request side of one runtime call on the wire.
type callPayload struct {
	Target    transport.CallEntry  `json:"target"`
	Params    map[string]any       `json:"params,omitempty"`
	Transport *transport.Transport `json:"transport"`
}

// callReply is the response side. Exactly one of Transport and Error is set:
// an Error here means the callee could not process the request at all,
// request-level failures travel inside the transport instead.
type callReply struct {
	Transport *transport.Transport `json:"transport,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func encodePayload(p callPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "runtime", "encodePayload", "marshal call payload")
	}
	return data, nil
}

func decodePayload(data []byte) (callPayload, error) {
	var p callPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return callPayload{}, errors.WrapInvalid(errors.ErrParsingFailed, "runtime", "decodePayload",
			"unmarshal call payload: "+err.Error())
	}
	if p.Transport == nil {
		return callPayload{}, errors.WrapInvalid(errors.ErrInvalidData, "runtime", "decodePayload",
			"payload carries no transport")
	}
	return p, nil
}

func encodeReply(r callReply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		// A transport that marshalled on the caller side and merged cleanly
		// cannot fail to marshal here; treat it as a callee bug.
		fallback, _ := json.Marshal(callReply{Error: "encode reply: " + err.Error()})
		return fallback
	}
	return data
}

func decodeReply(data []byte) (callReply, error) {
	var r callReply
	if err := json.Unmarshal(data, &r); err != nil {
		return callReply{}, errors.WrapInvalid(errors.ErrParsingFailed, "runtime", "decodeReply",
			"unmarshal call reply: "+err.Error())
	}
	return r, nil
}
