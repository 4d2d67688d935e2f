// Package rudder implements the fault-clear -> homing -> profile-position
// targeting state machine for one rudder axis (port or starboard), per spec
// §4.7.
//
// It is a direct translation of io/rudderd2/rudderctl_main.c's rudder_init
// and rudder_control into two methods on a Controller, driven by a caller
// loop that alternates Init (until it reports Targeting) and Control (until
// it reports Homing), mirroring the original's two nested "while (state !=
// X)" loops.
package rudder

import (
	"math"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/ebus"
	"github.com/avalonsail/actuatorcore/internal/eposclient"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/timer"
)

// ToleranceDeg is the aiming precision used to derive the position window
// and min/max travel margins, matching rudderctl_main.c's TOLERANCE_DEG.
const ToleranceDeg = 0.05

// Controller drives one rudder (Left or Right) through its fault-clear,
// homing, and targeting cycle.
type Controller struct {
	Params axis.Params
	dev    *eposclient.Device
	log    *ratelog.Logger

	commandedAngle float64 // degrees; NaN means hold

	reach      timer.Timer
	reachCount int64
}

// New returns a Controller for params, issuing register traffic through dev.
func New(params axis.Params, dev *eposclient.Device, log *ratelog.Logger) *Controller {
	return &Controller{Params: params, dev: dev, log: log, commandedAngle: math.NaN()}
}

// SetCommandedAngle updates the target angle in degrees parsed from the
// latest rudderctl: line. NaN means "no command; hold."
func (c *Controller) SetCommandedAngle(deg float64) { c.commandedAngle = deg }

func minMaxPosQC(p axis.Params) (min, max int32) {
	if p.HomePosQC < p.ExtrPosQC {
		return p.HomePosQC, p.ExtrPosQC
	}
	return p.ExtrPosQC, p.HomePosQC
}

func homingMethod(p axis.Params) uint32 {
	if p.HomePosQC < p.ExtrPosQC {
		return 1
	}
	return 2
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Init runs the fault-clear/configuration/homing sequence, returning Defunct
// while waiting on a register read or clearing a fault, Homing while the
// homing handshake is in progress, or Targeting once homed and switched on
// in profile-position mode. It is the Go rendering of rudder_init.
func (c *Controller) Init() axis.State {
	status, ok := c.dev.Get(axis.RegStatus)
	if !ok {
		return axis.Defunct
	}

	if axis.StatusWord(status).Fault() {
		c.log.Debugf("rudder %s init clearing fault 0x%x", c.Params.Axis, status)
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlClearFault)
		c.dev.Invalidate(axis.RegError)
		c.dev.Get(axis.RegError)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}

	control, rc := c.dev.Get(axis.RegControl)
	opmode, ro := c.dev.Get(axis.RegOpMode)
	if !rc || !ro {
		return axis.Defunct
	}

	minPos, maxPos := minMaxPosQC(c.Params)
	delta := abs32(axis.AngleToQC(c.Params, ToleranceDeg))
	minPos -= 10 * delta
	maxPos += 10 * delta
	method := homingMethod(c.Params)

	ok = true
	set := func(reg uint32, val uint32) {
		ok = c.dev.Set(reg, val) && ok
	}
	set(ebus.RegisterID(0x6410, 1), 5000)
	set(ebus.RegisterID(0x2080, 0), 1000)
	set(ebus.RegisterID(0x2081, 0), 0)
	set(ebus.RegisterID(0x6065, 0), uint32(50*delta))
	set(ebus.RegisterID(0x6067, 0), uint32(delta))
	set(ebus.RegisterID(0x6068, 0), 50)
	set(ebus.RegisterID(0x607C, 0), 0)
	set(ebus.RegisterID(0x607D, 1), uint32(minPos))
	set(ebus.RegisterID(0x607D, 2), uint32(maxPos))
	set(ebus.RegisterID(0x607F, 0), 8000)
	set(ebus.RegisterID(0x6081, 0), 3000)
	set(ebus.RegisterID(0x6083, 0), 10000)
	set(ebus.RegisterID(0x6084, 0), 10000)
	set(ebus.RegisterID(0x6085, 0), 10000)
	set(ebus.RegisterID(0x6086, 0), 0)
	set(ebus.RegisterID(0x6098, 0), method)
	set(ebus.RegisterID(0x6099, 1), 1500)
	set(ebus.RegisterID(0x6099, 2), 300)
	set(ebus.RegisterID(0x609A, 0), 5000)

	if !ok {
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlShutdown)
		return axis.Defunct
	}
	c.log.Debugf("rudder %s init configured", c.Params.Axis)

	sw := axis.StatusWord(status)
	if !sw.Referenced() {
		if opmode != axis.OpModeHoming {
			c.log.Debugf("rudder %s init set opmode homing", c.Params.Axis)
			c.dev.Set(axis.RegOpMode, axis.OpModeHoming)
			c.dev.Invalidate(axis.RegControl)
			c.dev.Set(axis.RegControl, axis.ControlShutdown)
			c.dev.Invalidate(axis.RegStatus)
			return axis.Homing
		}

		switch control {
		case axis.ControlShutdown:
			c.log.Debugf("rudder %s init homing, switchon", c.Params.Axis)
			c.dev.Set(axis.RegControl, axis.ControlSwitchOn)
		case axis.ControlSwitchOn:
			c.log.Debugf("rudder %s init homing, start", c.Params.Axis)
			c.dev.Set(axis.RegControl, axis.ControlStart)
		case axis.ControlStart:
			if axis.StatusWord(status).Has(axis.StatusHomingError) {
				c.log.Debugf("rudder %s init homing error: 0x%x", c.Params.Axis, status)
				fallthroughHomingReset(c)
			}
		default:
			fallthroughHomingReset(c)
		}
		c.dev.Invalidate(axis.RegStatus)
		return axis.Homing
	}

	c.log.Debugf("rudder %s init homeref ok", c.Params.Axis)

	if opmode != axis.OpModePPM {
		c.log.Debugf("rudder %s init set opmode PPM", c.Params.Axis)
		c.dev.Set(axis.RegOpMode, axis.OpModePPM)
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlShutdown)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}

	if control != axis.ControlSwitchOn {
		c.log.Debugf("rudder %s init final switchon", c.Params.Axis)
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegControl, axis.ControlSwitchOn)
		c.dev.Invalidate(axis.RegStatus)
		return axis.Defunct
	}

	return axis.Targeting
}

func fallthroughHomingReset(c *Controller) {
	c.dev.Invalidate(axis.RegOpMode)
	c.dev.Set(axis.RegOpMode, axis.OpModeHoming)
	c.dev.Invalidate(axis.RegControl)
	c.dev.Set(axis.RegControl, axis.ControlShutdown)
}

// Control tracks the commanded angle once homed and in PPM mode, returning
// Defunct while waiting on a register read, Homing if a fault or lost
// reference requires rerunning Init, Targeting while in motion, or Reached
// once the target is satisfied. It is the Go rendering of rudder_control.
func (c *Controller) Control() axis.State {
	status, ok := c.dev.Get(axis.RegStatus)
	if !ok {
		return axis.Defunct
	}
	sw := axis.StatusWord(status)

	if sw.Fault() {
		c.log.Debugf("rudder %s control clearing fault 0x%x", c.Params.Axis, status)
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

	if !sw.Referenced() || opmode != axis.OpModePPM {
		return axis.Homing
	}

	if math.IsNaN(c.commandedAngle) {
		return axis.Reached
	}

	newTargQC := uint32(axis.AngleToQC(c.Params, c.commandedAngle))
	if newTargQC != currTargQC {
		c.dev.Invalidate(axis.RegControl)
		c.dev.Set(axis.RegTargPos, newTargQC)
		c.dev.Set(axis.RegControl, axis.ControlStart)
	}

	c.dev.Invalidate(axis.RegStatus)
	if sw.TargetReached() {
		return axis.Reached
	}
	return axis.Targeting
}

// TickReach feeds the outer driving loop's latest Control() result into the
// reached-time ring-buffer timer: a Targeting state starts the timer if not
// already running, a Reached state stops it. Every 200 completed cycles it
// logs period/duty-cycle statistics at INFO. Skipped entirely while there is
// no commanded angle, mirroring rudder_control_main.c's "if (isnan(...))
// continue" guard around this bookkeeping.
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
			c.log.Infof("rudder %s target reached count=%d f=%.3fHz duty=%.1f%% period=%v run=%v",
				c.Params.Axis, s.Count, s.FrequencyHz, s.DutyCycle*100, s.PeriodAvg, s.RunAvg)
		}
	}
}
