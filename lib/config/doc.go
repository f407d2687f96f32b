// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for statebridge
// components.
//
// Configuration is loaded from a single file specified by either the
// STATEBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). The file format follows the extension: .yaml
// and .yml are parsed as YAML, .toml as TOML, and .json or .jsonc as
// JSON with comments and trailing commas permitted. There is no
// automatic file search.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Production always starts with guest debug forwarding off;
// only an explicit debug field in the production section enables it.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded.
//
// [LoadState] reads a JSONC document as a state object. The guest uses
// it for fallback state in standalone mode and the host for seeding its
// store.
//
// Key exports:
//
//   - [Config] -- master struct with Host, Guest, Transport
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Duration] -- time.Duration that decodes from "30s" in every format
//
// This package depends on no other statebridge packages.
package config
