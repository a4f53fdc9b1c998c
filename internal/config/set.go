package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set assigns a dotted key such as "analysis.concurrency" from its string
// form. The value is decoded as YAML, so "true", "4" and "5m" get the type
// the field expects. Unknown keys and mistyped values are rejected and leave
// c unchanged.
func (c *Config) Set(key, value string) error {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) < 2 {
		return fmt.Errorf("invalid key %q: expected section.field", key)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			if node[part] != nil || part != "categories" {
				return fmt.Errorf("unknown config key %q", key)
			}
			child = map[string]interface{}{}
			node[part] = child
		}
		node = child
	}
	leaf := parts[len(parts)-1]
	if _, ok := node[leaf]; !ok && parts[len(parts)-2] != "categories" {
		return fmt.Errorf("unknown config key %q", key)
	}
	node[leaf] = parsed

	out, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	next := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	if err := dec.Decode(next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	*c = *next
	return nil
}
