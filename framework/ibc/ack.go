package ibc

import (
	"encoding/base64"
	"encoding/json"

	errorsmod "cosmossdk.io/errors"
)

// Ack is a decoded acknowledgement. Exactly one of Result and Error is set.
type Ack struct {
	// Result is the base64-decoded success payload.
	Result []byte
	// Error is the error string written by the receiving chain.
	Error string
}

// Success reports whether the acknowledgement carries a result.
func (a Ack) Success() bool {
	return a.Error == ""
}

// Unmarshal parses the JSON payload carried in the result into v.
func (a Ack) Unmarshal(v any) error {
	if !a.Success() {
		return errorsmod.Wrapf(ErrUnexpectedAckResult, "ack carries error: %s", a.Error)
	}
	if err := json.Unmarshal(a.Result, v); err != nil {
		return errorsmod.Wrapf(ErrMalformedAcknowledgement, "result payload is not json: %s", err)
	}
	return nil
}

type envelope struct {
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// DecodeAck decodes the {"result": <base64>} / {"error": <string>} envelope.
func DecodeAck(bz []byte) (Ack, error) {
	var env envelope
	if err := json.Unmarshal(bz, &env); err != nil {
		return Ack{}, errorsmod.Wrapf(ErrMalformedAcknowledgement, "%s", err)
	}

	switch {
	case env.Result != nil && env.Error != nil:
		return Ack{}, errorsmod.Wrap(ErrMalformedAcknowledgement, "both result and error are set")
	case env.Result == nil && env.Error == nil:
		return Ack{}, errorsmod.Wrap(ErrMalformedAcknowledgement, "neither result nor error is set")
	case env.Error != nil:
		if *env.Error == "" {
			return Ack{}, errorsmod.Wrap(ErrMalformedAcknowledgement, "empty error")
		}
		return Ack{Error: *env.Error}, nil
	}

	if *env.Result == "" {
		return Ack{}, errorsmod.Wrap(ErrMalformedAcknowledgement, "empty result")
	}
	result, err := base64.StdEncoding.DecodeString(*env.Result)
	if err != nil {
		return Ack{}, errorsmod.Wrapf(ErrMalformedAcknowledgement, "result is not base64: %s", err)
	}
	return Ack{Result: result}, nil
}

// NewResultAck encodes a success acknowledgement around the JSON form of v.
func NewResultAck(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	return json.Marshal(envelope{Result: &encoded})
}

// NewErrorAck encodes an error acknowledgement.
func NewErrorAck(msg string) []byte {
	bz, _ := json.Marshal(envelope{Error: &msg})
	return bz
}
