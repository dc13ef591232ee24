// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for tryme.
//
// # Key Types
//
//   - Config: complete configuration, one section per concern
//   - APIConfig: endpoint, credentials and request limits
//   - ChatConfig: default model and request parameters
//   - StorageConfig: persistence backend selection
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TRYME_*, OPENROUTER_*)
//   - A .env file in the working directory
//   - ~/.tryme/config.toml (TRYME_HOME overrides the directory)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := cloud.NewClient(cfg.API.Key).WithBaseURL(cfg.API.BaseURL)
package config
