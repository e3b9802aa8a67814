package procreg

import "time"

// DefaultGracePeriod is how long KillProcessTree waits between the polite
// and the forceful signal.
const DefaultGracePeriod = 100 * time.Millisecond
