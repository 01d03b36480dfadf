package chain

import "encoding/json"

// wireEvent mirrors Event with JSON tags; Event itself carries no tags so
// that callers outside this package are not tempted to treat chain.Event as
// a wire type. Only this package's codec knows how chains are persisted.
type wireEvent struct {
	Hash        []byte `json:"hash"`
	ParentHash  []byte `json:"parent_hash,omitempty"`
	EventType   string `json:"event_type"`
	Timestamp   uint64 `json:"timestamp"`
	Data        []byte `json:"data"`
	Description string `json:"description,omitempty"`
}

// EncodeSequence canonically serializes a chain snapshot for blobstore.Put.
func EncodeSequence(events []Event) []byte {
	wire := make([]wireEvent, len(events))
	for i, e := range events {
		wire[i] = wireEvent{
			Hash:        e.Hash,
			ParentHash:  e.ParentHash,
			EventType:   e.EventType,
			Timestamp:   e.Timestamp,
			Data:        e.Data,
			Description: e.Description,
		}
	}
	out, err := json.Marshal(wire)
	if err != nil {
		// wireEvent contains only JSON-safe primitives; Marshal cannot fail.
		panic(err)
	}
	return out
}

// DecodeSequence reverses EncodeSequence, e.g. when loading a saved chain
// back for verification or replay comparison.
func DecodeSequence(data []byte) ([]Event, error) {
	var wire []wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]Event, len(wire))
	for i, w := range wire {
		out[i] = Event{
			Hash:        w.Hash,
			ParentHash:  w.ParentHash,
			EventType:   w.EventType,
			Timestamp:   w.Timestamp,
			Data:        w.Data,
			Description: w.Description,
		}
	}
	return out, nil
}

// EncodeHostFunctionCall serializes a HostFunctionCall for embedding in an
// Event's Data field.
func EncodeHostFunctionCall(c HostFunctionCall) []byte {
	out, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodeHostFunctionCall reverses EncodeHostFunctionCall.
func DecodeHostFunctionCall(data []byte) (HostFunctionCall, error) {
	var c HostFunctionCall
	err := json.Unmarshal(data, &c)
	return c, err
}
