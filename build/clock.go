package build

import (
	"github.com/raulk/clock"
)

// Clock is the global clock for the system. In standard builds,
// we use a real-time clock, which maps to the `time` package.
//
// Tests that need to mock time can replace this variable with
// clock.NewMock().
var Clock = clock.New()
