package rudderproto

import (
	"math"
	"testing"
)

func TestParseFormatCtlRoundTrip(t *testing.T) {
	line := "rudderctl: timestamp_ms:1000 rudder_l_deg:-5.500 rudder_r_deg:5.500 sail_deg:nan storm_flag:1\n"
	c, ok := ParseCtl(line)
	if !ok {
		t.Fatalf("ParseCtl(%q) failed", line)
	}
	if c.TimestampMs != 1000 || c.RudderLDeg != -5.5 || c.RudderRDeg != 5.5 || !c.StormFlag {
		t.Fatalf("unexpected parse result: %+v", c)
	}
	if !math.IsNaN(c.SailDeg) {
		t.Fatalf("expected SailDeg nan, got %v", c.SailDeg)
	}
	if got := FormatCtl(c); got != line {
		t.Fatalf("FormatCtl round-trip = %q, want %q", got, line)
	}
}

func TestParseCtlRejectsMalformed(t *testing.T) {
	if _, ok := ParseCtl("rudderctl: garbage\n"); ok {
		t.Fatal("expected ParseCtl to reject a malformed line")
	}
}

func TestParseFormatStsRoundTrip(t *testing.T) {
	line := "ruddersts: timestamp_ms:2000 rudder_l_deg:nan rudder_r_deg:0.000 sail_deg:90.250\n"
	s, ok := ParseSts(line)
	if !ok {
		t.Fatalf("ParseSts(%q) failed", line)
	}
	if !math.IsNaN(s.RudderLDeg) || s.RudderRDeg != 0 || s.SailDeg != 90.25 {
		t.Fatalf("unexpected parse result: %+v", s)
	}
	if got := FormatSts(s); got != line {
		t.Fatalf("FormatSts round-trip = %q, want %q", got, line)
	}
}

func TestParseFormatSkewRoundTrip(t *testing.T) {
	line := "skew: timestamp_ms:3000 angle_deg:-12.750\n"
	sk, ok := ParseSkew(line)
	if !ok {
		t.Fatalf("ParseSkew(%q) failed", line)
	}
	if sk.TimestampMs != 3000 || sk.AngleDeg != -12.75 {
		t.Fatalf("unexpected parse result: %+v", sk)
	}
	if got := FormatSkew(sk); got != line {
		t.Fatalf("FormatSkew round-trip = %q, want %q", got, line)
	}
}
