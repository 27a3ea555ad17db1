package model

import "encoding/json"

// MarshalJSON flattens Unknown's passthrough fields alongside the known
// Checkpoint fields, implementing spec.md §6's "forward-compatible:
// unknown fields on load are preserved and re-emitted on write".
func (c Checkpoint) MarshalJSON() ([]byte, error) {
	type known Checkpoint
	base, err := json.Marshal(known(c))
	if err != nil {
		return nil, err
	}
	if len(c.Unknown) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Unknown {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if _, exists := merged[k]; !exists {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON populates known fields and stashes any remaining keys in
// Unknown so a round trip through a newer schema version loses nothing.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	type known Checkpoint
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*c = Checkpoint(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known_ := map[string]bool{
		"visited": true, "queued": true, "externalFound": true,
		"currentDepth": true, "crawlStart": true, "lastCheckpoint": true,
		"entitiesCount": true, "sectionsCompleted": true,
	}
	c.Unknown = make(map[string]any)
	for key, v := range raw {
		if known_[key] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		c.Unknown[key] = val
	}
	if len(c.Unknown) == 0 {
		c.Unknown = nil
	}
	return nil
}
