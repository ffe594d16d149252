package processstate

import "math"

// MaxPID is the largest value the OS pid type can hold. Larger values would
// be truncated by the kill syscall and could alias a real process, or -1.
const MaxPID = math.MaxInt32
