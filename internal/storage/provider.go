package storage

import "vidrender/internal/ports"

// Provider is the archive contract used by the processor and health checks.
type Provider = ports.ArtifactStore
