package fiscalnote

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Parse parses and validates a note from JSON
func Parse(data []byte) (*Note, error) {
	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, fmt.Errorf("failed to parse note: %w", err)
	}

	if err := Validate(&note); err != nil {
		return nil, err
	}

	return &note, nil
}

// ParseFile parses a note from a JSON file on disk
func ParseFile(path string) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read note file: %w", err)
	}

	return Parse(data)
}

// FromPayload converts an opaque queue payload into a note. The payload is
// assumed to have been validated upstream, so only decoding errors are reported.
func FromPayload(payload map[string]interface{}) (*Note, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	var note Note
	if err := json.Unmarshal(raw, &note); err != nil {
		return nil, fmt.Errorf("payload is not a note: %w", err)
	}

	return &note, nil
}

// ToPayload converts a note into the opaque payload form used by the queue
func (n *Note) ToPayload() (map[string]interface{}, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]interface{})
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// LogoImage decodes the embedded logo, if any
func (n *Note) LogoImage() (image.Image, error) {
	if n.Logo == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(n.Logo)
	if err != nil {
		return nil, fmt.Errorf("invalid logo encoding: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid logo image: %w", err)
	}
	return img, nil
}
