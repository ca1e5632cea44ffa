// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime pattern engine. It uses
the Go embed package to bake anti_addiction_patterns.yaml directly into the
compiled binary, so the catalog is immutable at runtime and travels with
the executable.
*/

package enforcement

import (
	_ "embed"
)

// AntiAddictionPatterns holds the raw byte content of
// 'anti_addiction_patterns.yaml'.
//
// Populated at compile time via the embed directive. Pass these bytes
// directly to yaml.Unmarshal.
//
//go:embed anti_addiction_patterns.yaml
var AntiAddictionPatterns []byte
