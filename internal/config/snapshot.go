// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	oasdiffyaml "github.com/oasdiff/yaml"
)

// RawSnapshot re-serializes a loaded config as YAML with oasdiff's yaml
// fork.
func RawSnapshot(cfg FileConfig) ([]byte, error) {
	return oasdiffyaml.Marshal(cfg)
}
