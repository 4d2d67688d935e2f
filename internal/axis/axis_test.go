package axis_test

import (
	"testing"

	"github.com/avalonsail/actuatorcore/internal/axis"
)

func TestBoundedAxisClampsAtLimits(t *testing.T) {
	p := axis.Table[axis.Left]

	qc := axis.AngleToQC(p, 200.0) // past home, should clamp to home_pos_qc
	if qc != p.HomePosQC {
		t.Fatalf("angle past home should clamp to home_pos_qc, got %d want %d", qc, p.HomePosQC)
	}

	qc = axis.AngleToQC(p, -200.0) // past extreme, should clamp to extr_pos_qc
	if qc != p.ExtrPosQC {
		t.Fatalf("angle past extreme should clamp to extr_pos_qc, got %d want %d", qc, p.ExtrPosQC)
	}
}

func TestBoundedAxisRoundTripAtEndpoints(t *testing.T) {
	for _, name := range []axis.MotorAxis{axis.Left, axis.Right} {
		p := axis.Table[name]

		qc := axis.AngleToQC(p, p.HomeAngleDeg)
		if qc != p.HomePosQC {
			t.Fatalf("%s: home angle should map to home_pos_qc exactly, got %d want %d", name, qc, p.HomePosQC)
		}
		gotAngle := axis.QCToAngle(p, p.HomePosQC)
		if diff := gotAngle - p.HomeAngleDeg; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%s: home_pos_qc should map back to home angle, got %v want %v", name, gotAngle, p.HomeAngleDeg)
		}

		qc = axis.AngleToQC(p, p.ExtrAngleDeg)
		if qc != p.ExtrPosQC {
			t.Fatalf("%s: extreme angle should map to extr_pos_qc exactly, got %d want %d", name, qc, p.ExtrPosQC)
		}
	}
}

func TestFullRotationAxisWrapsInsteadOfClamping(t *testing.T) {
	p := axis.Table[axis.Sail]

	// 270 degrees is out of the nominal (-180,180] input range but must
	// wrap onto the circle rather than saturate at the extreme.
	wrapped := axis.AngleToQC(p, 270.0)
	equivalent := axis.AngleToQC(p, -90.0)
	if wrapped != equivalent {
		t.Fatalf("270deg and -90deg are the same point on the circle, got %d vs %d", wrapped, equivalent)
	}
}

func TestFullRotationAngleNormalizedToHalfOpenRange(t *testing.T) {
	p := axis.Table[axis.Bmmh]

	// one full turn past home_pos_qc must read back as the home angle
	// folded into (-180,180] (Bmmh's home angle -180 reads as +180),
	// not as home_angle + 360.
	want := p.HomeAngleDeg
	if want <= -180.0 {
		want += 360.0
	}
	turn := p.ExtrPosQC - p.HomePosQC
	got := axis.QCToAngle(p, p.HomePosQC+2*turn)
	if diff := got - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("angle should normalize back to home angle after a full extra turn, got %v want %v", got, want)
	}
	if got <= -180.0 || got > 180.0 {
		t.Fatalf("angle %v must land in (-180,180]", got)
	}
}

func TestAngleQCAffinity(t *testing.T) {
	// qc_to_angle(angle_to_qc(x)) == x within tolerance, for every axis,
	// at both endpoints and the midpoint. Angles come back folded into
	// (-180,180], so a -180 sample reads back as +180.
	for _, name := range []axis.MotorAxis{axis.Left, axis.Right, axis.Sail, axis.Bmmh} {
		p := axis.Table[name]
		samples := []float64{p.HomeAngleDeg, p.ExtrAngleDeg, (p.HomeAngleDeg + p.ExtrAngleDeg) / 2}
		for _, want := range samples {
			qc := axis.AngleToQC(p, want)
			got := axis.QCToAngle(p, qc)
			if want <= -180.0 {
				want += 360.0
			}
			diff := got - want
			if diff > 1e-6 || diff < -1e-6 {
				// Bounded axes only guarantee affinity inside [home,extreme];
				// all our samples are inside that range so this must hold
				// for every axis kind.
				t.Fatalf("%s: round trip mismatch at %v: got %v", name, want, got)
			}
		}
	}
}

func TestStatusWordCombinations(t *testing.T) {
	// StatusSwitchedOn (0x0123) is a fixed point of StatusMask, so a raw
	// status word equal to it (plus an out-of-mask bit) is still recognized.
	s := axis.StatusWord(axis.StatusSwitchedOn | axis.StatusMysteryBit)
	if !s.SwitchedOn() {
		t.Fatal("expected SwitchedOn combination to be recognized despite an unmasked bit")
	}
	if s.Fault() {
		t.Fatal("did not set the fault bit")
	}

	f := axis.StatusWord(axis.StatusFault | axis.StatusReadyToSwitchOn)
	if !f.Fault() {
		t.Fatal("expected fault bit to be detected")
	}
}
