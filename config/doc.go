// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config manages the assistant's configuration lifecycle: multi-source
loading, runtime hot reload, change auditing, and an HTTP management API.
Configuration merges in "defaults -> YAML file -> environment variables"
priority order.

# Core types

  - Config: the top-level configuration tree, covering Server, Providers,
    Router, Cache, Executor, Log, and Telemetry
  - Loader: a builder-pattern loader with chained file path, environment
    prefix, and validator configuration
  - HotReloadManager: watches the config file, applies partial field
    updates, notifies change callbacks, and keeps a bounded change log
  - FileWatcher: polling-plus-debounce file change detector
  - ConfigAPIHandler: HTTP endpoints for reading, updating, and reloading
    configuration, and for inspecting change history

# Usage

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    WithEnvPrefix("ASSISTANT").
	    Load()
*/
package config
