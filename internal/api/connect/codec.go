// Package connect provides the operator control service over Connect RPC.
package connect

import "encoding/json"

// jsonCodec serializes plain Go request and response structs.
type jsonCodec struct{}

// Name implements connect.Codec. Handlers answer application/json.
func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
