package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Metadata returns the output-affecting options as a generic JSON tree.
// Maps re-marshal with sorted keys, which makes the encoding canonical.
func (c *Config) Metadata() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Fingerprint is the hex SHA-256 of the canonical JSON of Metadata. Two
// configurations with the same fingerprint produce the same outputs.
func (c *Config) Fingerprint() (string, error) {
	meta, err := c.Metadata()
	if err != nil {
		return "", err
	}
	canonical, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ShortHash truncates a fingerprint for use in file names.
func ShortHash(fingerprint string) string {
	if len(fingerprint) > 16 {
		return fingerprint[:16]
	}
	return fingerprint
}
