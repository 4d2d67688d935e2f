// Package axis holds the static per-motor parameters and the angle<->qc
// affine conversions shared by every axis controller, plus the EPOS
// status/error bit decoder they all poll.
//
// It is a Go translation of io/rudderd2/actuator.h's MotorParams table and
// angle_to_qc/qc_to_angle, and of lib/epos/motor.h's status/error bit enums.
package axis

import "fmt"

// MotorAxis names one of the four physical EPOS-driven axes on the boat.
type MotorAxis int

const (
	Left MotorAxis = iota
	Right
	Sail
	Bmmh
)

func (a MotorAxis) String() string {
	switch a {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	case Sail:
		return "SAIL"
	case Bmmh:
		return "BMMH"
	default:
		return "UNKNOWN"
	}
}

// Params is the affine calibration for one axis: the (angle, qc) pair at
// the home position and at the extreme position, plus its device serial.
//
// Left and Right are bounded-travel rudders: home_pos_qc is always the
// controller's zero and extr_pos_qc brackets the limited inner travel, so
// AngleToQC clamps to the [home, extreme] range. Sail and Bmmh are full
// rotation sensors: extreme - home is exactly a full circle (360 degrees
// in magnitude), so AngleToQC/QCToAngle wrap instead of clamping.
type Params struct {
	Axis         MotorAxis
	Serial       uint32
	HomeAngleDeg float64
	ExtrAngleDeg float64
	HomePosQC    int32
	ExtrPosQC    int32
}

func (p Params) bounded() bool {
	return p.Axis == Left || p.Axis == Right
}

// qcPerFullTurn is the magnitude of extr_pos_qc - home_pos_qc for Sail and
// Bmmh, which by construction span exactly one full rotation.
func (p Params) qcPerFullTurn() int32 {
	turn := p.ExtrPosQC - p.HomePosQC
	if turn < 0 {
		turn = -turn
	}
	return turn
}

// Table holds the active calibration for every axis, translated verbatim
// from actuator.h's motor_params[] (the narrower "limiting inner angle"
// values; the wider #if 0 LEFT/RIGHT pair in the original is superseded
// and not carried forward).
var Table = map[MotorAxis]Params{
	Left: {
		Axis:         Left,
		Serial:       0x09011145,
		HomeAngleDeg: 101.0,
		ExtrAngleDeg: -50.0,
		HomePosQC:    0,
		ExtrPosQC:    -288000 * 151 / 180,
	},
	Right: {
		Axis:         Right,
		Serial:       0x09010537,
		HomeAngleDeg: -97.0,
		ExtrAngleDeg: 50.0,
		HomePosQC:    0,
		ExtrPosQC:    288000 * 147 / 180,
	},
	Sail: {
		Axis:         Sail,
		Serial:       0x09010506,
		HomeAngleDeg: -180.0,
		ExtrAngleDeg: 180.0,
		HomePosQC:    615000,
		ExtrPosQC:    -615000,
	},
	Bmmh: {
		Axis:         Bmmh,
		Serial:       0x00001227,
		HomeAngleDeg: -180.0,
		ExtrAngleDeg: 180.0,
		HomePosQC:    2048,
		ExtrPosQC:    -2048,
	},
}

// normalizeDeg folds deg into (-180, 180], matching the spec's requirement
// that every angle produced by QCToAngle for a full-rotation axis be
// reported in that range.
func normalizeDeg(deg float64) float64 {
	for deg <= -180.0 {
		deg += 360.0
	}
	for deg > 180.0 {
		deg -= 360.0
	}
	return deg
}

// AngleToQC converts an angle in degrees to a raw quadrature-count target,
// the Go equivalent of actuator.c's angle_to_qc. For Left/Right, alpha is
// clamped to [0,1] so an out-of-range request saturates at the physical
// limit instead of driving past it. For Sail/Bmmh, angle_deg is normalized
// against the home angle modulo a full turn before the affine map, so
// requests outside (-180,180] wrap rather than clamp.
func AngleToQC(p Params, angleDeg float64) int32 {
	span := p.ExtrAngleDeg - p.HomeAngleDeg
	alpha := (angleDeg - p.HomeAngleDeg) / span

	if p.bounded() {
		if alpha < 0.0 {
			alpha = 0.0
		}
		if alpha > 1.0 {
			alpha = 1.0
		}
	} else {
		alpha -= float64(int(alpha))
		if alpha < 0.0 {
			alpha += 1.0
		}
	}

	return int32((1.0-alpha)*float64(p.HomePosQC) + alpha*float64(p.ExtrPosQC))
}

// QCToAngle converts a raw quadrature-count reading to an angle in
// degrees, the Go equivalent of actuator.c's qc_to_angle. Left/Right pass
// the raw affine inverse through unclamped, matching the original (a
// controller should never report a position outside its own configured
// limits). Sail/Bmmh wrap pos_qc modulo a full turn first and normalize
// the resulting angle to (-180,180].
func QCToAngle(p Params, posQC int32) float64 {
	qc := posQC
	if !p.bounded() {
		turn := p.qcPerFullTurn()
		if turn != 0 {
			rel := int64(qc) - int64(p.HomePosQC)
			rel %= int64(turn)
			if rel < 0 {
				rel += int64(turn)
			}
			qc = p.HomePosQC + int32(rel)
		}
	}

	alpha := float64(qc-p.HomePosQC) / float64(p.ExtrPosQC-p.HomePosQC)
	deg := (1.0-alpha)*p.HomeAngleDeg + alpha*p.ExtrAngleDeg

	if !p.bounded() {
		deg = normalizeDeg(deg)
	}
	return deg
}

// Status bits of the EPOS status register (0x6041-00), per
// lib/epos/motor.h's EPOS_STS_BIT_* enum.
const (
	StatusReady          = 1 << 0
	StatusOn             = 1 << 1
	StatusEnabled        = 1 << 2
	StatusFault          = 1 << 3
	StatusPower          = 1 << 4
	StatusStopped        = 1 << 5
	StatusDisabled       = 1 << 6
	StatusMysteryBit     = 1 << 7
	StatusOffsetCurrent  = 1 << 8
	StatusNMTOperational = 1 << 9
	StatusTargetReached  = 1 << 10
	StatusLimited        = 1 << 11
	StatusOpAck          = 1 << 12
	StatusOpErr          = 1 << 13
	StatusRefreshing     = 1 << 14
	StatusReferenced     = 1 << 15
)

// StatusMask isolates the bits that participate in the named combination
// states below, per motor.h's EPOS_STS_MASK.
const StatusMask = 0x416F

// Named status combinations, per motor.h sec 8.1.1, applied after masking
// a raw status word with StatusMask.
const (
	StatusStart                     = 0x0000
	StatusNotReadyToSwitchOn        = 0x0100
	StatusSwitchOnDisabled          = 0x0140
	StatusReadyToSwitchOn           = 0x0121
	StatusSwitchedOn                = 0x0123
	StatusRefresh                   = 0x4123
	StatusMeasureInit               = 0x4133
	StatusOperationEnable           = 0x0137
	StatusQuickStopActive           = 0x0117
	StatusFaultReactionActiveDisabled = 0x010F
	StatusFaultReactionActiveEnabled  = 0x011F
	StatusFaultState                 = 0x0108
)

// Error bits of the EPOS error register (0x1001-00), per motor.h's
// EPOS_ERR_BIT_* enum.
const (
	ErrGeneric      = 1 << 0
	ErrCurrent      = 1 << 1
	ErrVoltage      = 1 << 2
	ErrTemperature  = 1 << 3
	ErrCommunication = 1 << 4
	ErrProfile      = 1 << 5
	ErrReserved     = 1 << 6
	ErrMotion       = 1 << 7
)

// StatusWord wraps a raw EPOS status register value with named bit and
// combination-state predicates.
type StatusWord uint32

func (s StatusWord) Has(bit uint32) bool { return uint32(s)&bit != 0 }

func (s StatusWord) Combination() uint32 { return uint32(s) & StatusMask }

func (s StatusWord) Fault() bool          { return s.Has(StatusFault) }
func (s StatusWord) Referenced() bool     { return s.Has(StatusReferenced) }
func (s StatusWord) TargetReached() bool  { return s.Has(StatusTargetReached) }
func (s StatusWord) ReadyToSwitchOn() bool { return s.Combination() == StatusReadyToSwitchOn }
func (s StatusWord) SwitchedOn() bool      { return s.Combination() == StatusSwitchedOn }
func (s StatusWord) OperationEnabled() bool { return s.Combination() == StatusOperationEnable }

func (s StatusWord) String() string {
	return fmt.Sprintf("status=0x%04x combo=0x%04x fault=%v referenced=%v targetReached=%v",
		uint32(s), s.Combination(), s.Fault(), s.Referenced(), s.TargetReached())
}

// ErrorWord wraps a raw EPOS error register value with named bit
// predicates.
type ErrorWord uint32

func (e ErrorWord) Has(bit uint32) bool { return uint32(e)&bit != 0 }
