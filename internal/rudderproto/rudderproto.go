// Package rudderproto implements the three text-line message kinds that flow
// alongside raw register traffic on the line bus: the planner's commanded
// angles ("rudderctl:"), the status aggregator's reported angles
// ("ruddersts:"), and the skew computer's measured slip ("skew:").
//
// It is a Go translation of proto/rudder.h's RudderProto/IFMT_RUDDERPROTO_CTL
// /OFMT_RUDDERPROTO_STS macros and proto/skew.h's SkewProto, rendered as
// strict regex-based parsers in the style of internal/ebus rather than
// sscanf, since the field order in a key:value line is not guaranteed to
// matter to a well-formed sender but must still be rejected if malformed.
package rudderproto

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Ctl is a "rudderctl:" message: the planner's commanded angles for both
// rudders and the sail, plus the storm flag that tells the sail controller
// to leave its brake disengaged once a target is reached.
type Ctl struct {
	TimestampMs int64
	RudderLDeg  float64
	RudderRDeg  float64
	SailDeg     float64
	StormFlag   bool
}

// Sts is a "ruddersts:" message: the status aggregator's best current
// estimate of both rudder angles and the boom angle. A NaN field means that
// axis is not currently homed/known.
type Sts struct {
	TimestampMs int64
	RudderLDeg  float64
	RudderRDeg  float64
	SailDeg     float64
}

// Skew is a "skew:" message: the measured angular difference between the
// sail motor's own position and the BMMH absolute sensor.
type Skew struct {
	TimestampMs int64
	AngleDeg    float64
}

var (
	reCtl = regexp.MustCompile(`^rudderctl: timestamp_ms:(-?\d+) rudder_l_deg:(nan|-?\d+(?:\.\d+)?) rudder_r_deg:(nan|-?\d+(?:\.\d+)?) sail_deg:(nan|-?\d+(?:\.\d+)?) storm_flag:([01])\n?$`)
	reSts = regexp.MustCompile(`^ruddersts: timestamp_ms:(-?\d+) rudder_l_deg:(nan|-?\d+(?:\.\d+)?) rudder_r_deg:(nan|-?\d+(?:\.\d+)?) sail_deg:(nan|-?\d+(?:\.\d+)?)\n?$`)
	reSkew = regexp.MustCompile(`^skew: timestamp_ms:(-?\d+) angle_deg:(nan|-?\d+(?:\.\d+)?)\n?$`)
)

func parseDeg(s string) float64 {
	if s == "nan" {
		return math.NaN()
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatDeg(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.3f", v)
}

// ParseCtl parses a "rudderctl:" line.
func ParseCtl(line string) (Ctl, bool) {
	m := reCtl.FindStringSubmatch(line)
	if m == nil {
		return Ctl{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Ctl{}, false
	}
	return Ctl{
		TimestampMs: ts,
		RudderLDeg:  parseDeg(m[2]),
		RudderRDeg:  parseDeg(m[3]),
		SailDeg:     parseDeg(m[4]),
		StormFlag:   m[5] == "1",
	}, true
}

// FormatCtl renders a "rudderctl:" line.
func FormatCtl(c Ctl) string {
	storm := 0
	if c.StormFlag {
		storm = 1
	}
	return fmt.Sprintf("rudderctl: timestamp_ms:%d rudder_l_deg:%s rudder_r_deg:%s sail_deg:%s storm_flag:%d\n",
		c.TimestampMs, formatDeg(c.RudderLDeg), formatDeg(c.RudderRDeg), formatDeg(c.SailDeg), storm)
}

// ParseSts parses a "ruddersts:" line.
func ParseSts(line string) (Sts, bool) {
	m := reSts.FindStringSubmatch(line)
	if m == nil {
		return Sts{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Sts{}, false
	}
	return Sts{
		TimestampMs: ts,
		RudderLDeg:  parseDeg(m[2]),
		RudderRDeg:  parseDeg(m[3]),
		SailDeg:     parseDeg(m[4]),
	}, true
}

// FormatSts renders a "ruddersts:" line.
func FormatSts(s Sts) string {
	return fmt.Sprintf("ruddersts: timestamp_ms:%d rudder_l_deg:%s rudder_r_deg:%s sail_deg:%s\n",
		s.TimestampMs, formatDeg(s.RudderLDeg), formatDeg(s.RudderRDeg), formatDeg(s.SailDeg))
}

// ParseSkew parses a "skew:" line.
func ParseSkew(line string) (Skew, bool) {
	m := reSkew.FindStringSubmatch(line)
	if m == nil {
		return Skew{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Skew{}, false
	}
	return Skew{TimestampMs: ts, AngleDeg: parseDeg(m[2])}, true
}

// FormatSkew renders a "skew:" line.
func FormatSkew(s Skew) string {
	return fmt.Sprintf("skew: timestamp_ms:%d angle_deg:%s\n", s.TimestampMs, formatDeg(s.AngleDeg))
}
