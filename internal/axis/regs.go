package axis

import "github.com/avalonsail/actuatorcore/internal/ebus"

// Object-dictionary register IDs shared by every axis controller, per
// branches/onboard/io/actuator.h's REGISTER(...)-keyed enum.
var (
	RegControl  = ebus.RegisterID(0x6040, 0)
	RegStatus   = ebus.RegisterID(0x6041, 0)
	RegOpMode   = ebus.RegisterID(0x6060, 0)
	RegError    = ebus.RegisterID(0x1001, 0)
	RegErrHist  = ebus.RegisterID(0x1003, 0)
	RegTargPos  = ebus.RegisterID(0x607A, 0)
	RegCurrPos  = ebus.RegisterID(0x6064, 0)
	RegBmmhPos  = ebus.RegisterID(0x6004, 0)
)

// Control word values written to RegControl, per actuator.h.
const (
	ControlClearFault = 0x80
	ControlShutdown   = 0x6
	ControlStart      = 0x3F
	ControlSwitchOn   = 0xF
)

// Operation mode values written to RegOpMode, per actuator.h.
const (
	OpModeHoming = 6
	OpModePPM    = 1
)

// StatusHomingError is STATUS_HOMINGERROR from actuator.h: set on the status
// word while CONTROL_START is outstanding during homing to signal the
// homing attempt itself failed (distinct from a general STATUS_FAULT).
const StatusHomingError = 1 << 13
