package geom

import (
	"encoding/json"
	"fmt"
)

// ParseSignatureMap decodes a persisted signature map into boxes. Three
// shapes exist in stored data and all must parse:
//
//   - a single box object            {"page":1,"x_pct":...}
//   - an array of boxes              [{"page":1,...},{"page":2,...}]
//   - a legacy two-key object        {"accounting":{...},"issuer":{...}}
//
// Callers get a flat []Box regardless of shape; no rendering code branches on
// the stored form.
func ParseSignatureMap(raw json.RawMessage) ([]Box, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var arr []Box
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}

	var single Box
	if err := json.Unmarshal(raw, &single); err == nil && single.Page > 0 {
		return []Box{single}, nil
	}

	// Legacy records keyed by role. Fixed key order keeps rendering stable.
	var legacy struct {
		Accounting *Box `json:"accounting"`
		Issuer     *Box `json:"issuer"`
	}
	if err := json.Unmarshal(raw, &legacy); err == nil {
		var boxes []Box
		if legacy.Accounting != nil {
			boxes = append(boxes, *legacy.Accounting)
		}
		if legacy.Issuer != nil {
			boxes = append(boxes, *legacy.Issuer)
		}
		if len(boxes) > 0 {
			return boxes, nil
		}
	}

	return nil, fmt.Errorf("geom: unrecognized signature map shape")
}

// EncodeSignatureMap always writes the array shape.
func EncodeSignatureMap(boxes []Box) (json.RawMessage, error) {
	if boxes == nil {
		boxes = []Box{}
	}
	data, err := json.Marshal(boxes)
	if err != nil {
		return nil, fmt.Errorf("geom: encode signature map: %w", err)
	}
	return data, nil
}
