// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is environment (ZUPASS_*) over the YAML file over built-in
// defaults. The YAML file is decoded strictly: unknown keys are errors.
package config
