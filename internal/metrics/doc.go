// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package metrics provides Prometheus-based metrics collection for the
assistant, covering the HTTP surface, the router's provider traffic, the
response cache's tier hit rate, and the executor's resource samples.

# Overview

Collector registers every instrument once via promauto, so callers never
manage a *prometheus.Registry directly. Instruments are grouped by
namespace and labeled for Grafana-style dashboards without letting label
cardinality grow unbounded (HTTP paths are normalized by the transport
layer before being passed in).

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors for each domain
    and exposes one Record* method per event worth counting.

# Coverage

  - HTTP: request count, duration, and request/response sizes, labeled by
    method/path/status class.
  - Router/provider: per-provider request count and duration, tokens
    billed, and router-level retry/failover counters.
  - Cache: hits per tier and a single miss counter.
  - Executor: heap/sys bytes, GC cycle count, and goroutine count, sourced
    from executor.Monitor's periodic samples.
*/
package metrics
