package utils

import "time"

// DebounceWindow is the default quiet period before a program re-evaluates its rules
const DebounceWindow = 2000 * time.Millisecond

// StateTTL is how long a cached device state survives in Redis
const StateTTL = time.Hour
