package observability

import "github.com/tphakala/ridenote/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
