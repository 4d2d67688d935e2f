// Package sail implements the sail winch's fault-clear -> profile-position-
// setup -> skew-compensated targeting state machine, per spec §4.8.
//
// Unlike a rudder axis, the sail winch has no homing step: the absolute BMMH
// angle sensor supplies the reference, so this controller instead waits for
// a skew measurement from internal/skew before it will compute a target, and
// it drives a mechanical brake output bit that the rudder axis has no
// equivalent of.
//
// It is a direct translation of branches/onboard/io/sailctl_main.c's
// sail_init/sail_control, extended per spec §4.8/§8's storm-flag scenario:
// when storm mode is commanded the controller skips re-engaging the brake
// output once the target is reached (it still shuts the drive down), so the
// boom stays free to luff.
package sail

import (
	"math"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/eposclient"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/timer"
)

// ToleranceDeg is the aiming precision used to derive the position window,
// matching sailctl_main.c's TOLERANCE_DEG (looser than a rudder's, since the
// sail winch's gear ratio is coarser).
const ToleranceDeg = 1.0

// Brake output register (0x2078) subindices and values, per
// sailctl_main.c's brake configuration block.
var (
	regBrakeOutputMask     = ebus.RegisterID(0x2078, 2)
	regBrakeOutputPolarity = ebus.RegisterID(0x2078, 3)
	regOutputRouting       = ebus.RegisterID(0x2079, 4)
	regBrakeOutput         = ebus.RegisterID(0x2078, 1)
)

const (
	brakeMaskBit12 = 1 << 12
	brakeOff       = 0
	brakeOn        = 1 << 12
)

// Controller drives the sail winch through its fault-clear, configuration,
// and skew-compensated targeting cycle.
type Controller struct {
	dev *eposclient.Device
	log *ratelog.Logger

	commandedAngle float64 // degrees; NaN means hold
	skewAngle      float64 // degrees; NaN means no skew measurement yet
	storm          bool

	reach      timer.Timer
	reachCount int64

	brakeEngaged bool
}

// New returns a Controller issuing register traffic for the Sail axis
// through dev.
func New(dev *eposclient.Device, log *ratelog.Logger) *Controller {
	return &Controller{dev: dev, log: log, commandedAngle: math.NaN(), skewAngle: math.NaN()}
}

// SetCommandedAngle updates the target angle in degrees parsed from the
// latest rudderctl: line.
func (c *Controller) SetCommandedAngle(deg float64) { c.commandedAngle = deg }

// SetStorm updates the storm flag parsed from the latest rudderctl: line.
func (c *Controller) SetStorm(storm bool) { c.storm = storm }

// SetSkewAngle updates the latest measured skew from a skew: line. NaN means
// no skew measurement has arrived yet.
func (c *Controller) SetSkewAngle(deg float64) { c.skewAngle = deg }

// HasSkew reports whether a skew measurement has ever been received.
func (c *Controller) HasSkew() bool { return !math.IsNaN(c.skewAngle) }

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Init runs the fault-clear/configuration sequence plus the brake wiring and
// switch-on handshake, returning Defunct until the winch is configured and
// switched on, at which point it returns Targeting. It is the Go rendering
// of sail_init.
func (c *Controller) Init() axis.State {
	status, ok := c.dev.Get(axis.RegStatus)
	if !ok {
		return axis.Defunct
	}
	sw := axis.StatusWord(status)

	if sw.Fault() {
		c.log.Debugf("sail init clearing fault 0x%x", status)
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlClearFault)
		c.dev.Invalidate(axis.RegError)
		c.dev.Get(axis.RegError)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}

	control, ok := c.dev.Get(axis.RegControl)
	if !ok {
		return axis.Defunct
	}

	params := axis.Table[axis.Sail]
	tol := abs32(axis.AngleToQC(params, ToleranceDeg))

	ok2 := true
	set := func(reg uint32, val uint32) {
		ok2 = c.dev.Set(reg, val) && ok2
	}
	set(axis.RegOpMode, axis.OpModePPM)
	set(ebus.RegisterID(0x6065, 0), 0xffffffff)
	set(ebus.RegisterID(0x6067, 0), uint32(tol))
	set(ebus.RegisterID(0x6068, 0), 50)
	set(ebus.RegisterID(0x607D, 1), 0x80000000)
	set(ebus.RegisterID(0x607D, 2), 0x7fffffff)
	set(ebus.RegisterID(0x607F, 0), 25000)
	set(ebus.RegisterID(0x6081, 0), 8000)
	set(ebus.RegisterID(0x6083, 0), 10000)
	set(ebus.RegisterID(0x6084, 0), 10000)
	set(ebus.RegisterID(0x6085, 0), 10000)
	set(ebus.RegisterID(0x6086, 0), 0)
	set(regBrakeOutputMask, brakeMaskBit12)
	set(regBrakeOutputPolarity, 0)
	set(regOutputRouting, 12)
	set(regBrakeOutput, brakeOff)

	if !ok2 {
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlShutdown)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}
	c.brakeEngaged = false

	if control == axis.ControlShutdown {
		c.log.Debugf("sail init final switchon")
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlSwitchOn)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}

	return axis.Targeting
}

// Control tracks the commanded angle, compensating for measured skew between
// the motor encoder and the absolute boom sensor, and manages the brake
// output. It is the Go rendering of sail_control, extended with the
// storm-flag brake behavior from spec §4.8/§8 S4.
func (c *Controller) Control() axis.State {
	status, ok := c.dev.Get(axis.RegStatus)
	if !ok {
		return axis.Defunct
	}
	sw := axis.StatusWord(status)

	if sw.Fault() {
		c.log.Debugf("sail control clearing fault 0x%x", status)
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlClearFault)
		c.dev.Invalidate(axis.RegError)
		c.dev.Get(axis.RegError)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Homing
	}

	opmode, ro := c.dev.Get(axis.RegOpMode)
	currTargQC, rt := c.dev.Get(axis.RegTargPos)
	if !ro || !rt {
		return axis.Defunct
	}

	if opmode != axis.OpModePPM {
		return axis.Homing
	}
	if math.IsNaN(c.skewAngle) {
		return axis.Defunct
	}
	if math.IsNaN(c.commandedAngle) {
		return c.onReached(sw.TargetReached())
	}

	params := axis.Table[axis.Sail]
	currTargDeg := axis.QCToAngle(params, int32(currTargQC))
	deltaDeg := normalizeDeg(c.commandedAngle - c.skewAngle - currTargDeg)
	newTargQC := uint32(int32(currTargQC) + axis.AngleToQC(params, deltaDeg))

	if newTargQC != currTargQC {
		if !c.dev.Set(regBrakeOutput, brakeOff) {
			return axis.Defunct
		}
		c.brakeEngaged = false
		c.log.Debugf("sail target %.1f -> %.1f", currTargDeg, axis.QCToAngle(params, int32(newTargQC)))
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegTargPos, newTargQC)
		c.dev.Set(axis.RegControl, axis.ControlStart)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Targeting
	}

	c.dev.Invalidate(axis.RegStatus)
	return c.onReached(sw.TargetReached())
}

// onReached applies the brake-reinforcement/shutdown behavior once a target
// is satisfied: outside storm conditions, the brake is engaged once per
// reach; under a storm flag the brake is left off so the boom can luff, but
// the drive is still shut down. Returns Targeting or Reached accordingly.
func (c *Controller) onReached(reached bool) axis.State {
	if !reached {
		return axis.Targeting
	}
	if !c.storm && !c.brakeEngaged {
		if c.dev.Set(regBrakeOutput, brakeOn) {
			c.brakeEngaged = true
			c.dev.Invalidate(axis.RegControl)
			c.dev.Set(axis.RegControl, axis.ControlShutdown)
		}
	} else if c.storm {
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlShutdown)
	}
	return axis.Reached
}

// normalizeDeg folds deg into (-180, 180], matching internal/axis's
// QCToAngle wrap convention so a boundary value of exactly -180 normalizes
// the same way everywhere (to +180, not left as -180).
func normalizeDeg(deg float64) float64 {
	for deg <= -180.0 {
		deg += 360.0
	}
	for deg > 180.0 {
		deg -= 360.0
	}
	return deg
}

// TickReach feeds the outer driving loop's latest Control() result into the
// reached-time ring-buffer timer, identical in shape to rudder.Controller's
// TickReach.
func (c *Controller) TickReach(state axis.State) {
	if math.IsNaN(c.commandedAngle) {
		return
	}
	switch state {
	case axis.Targeting:
		if !c.reach.Running() {
			c.reach.TickNow(true)
		}
	case axis.Reached:
		if c.reach.Running() {
			c.reach.TickNow(false)
			c.reachCount++
		}
	}
	if c.reachCount > 0 && c.reachCount%200 == 0 {
		if s, ok := c.reach.Stats(); ok {
			c.log.Infof("sail target reached count=%d f=%.3fHz duty=%.1f%% period=%v run=%v",
				s.Count, s.FrequencyHz, s.DutyCycle*100, s.PeriodAvg, s.RunAvg)
		}
	}
}
