package model

import "fmt"

// Severity is a scanner-reported CVSS-like score, or one of the sentinel
// values below. It is always a float64 in the wire protocols this package
// consumes, so we keep it as one rather than introducing a wrapper type.
type Severity float64

// Sentinel severities used by every scanner backend to mean something other
// than a CVSS score. These mirror the values the classical OSP scanners have
// used for decades; changing them would break bit-exactness with consumers.
const (
	SeverityLogSentinel   Severity = -1.0
	SeverityFPSentinel    Severity = -2.0
	SeverityErrorSentinel Severity = -3.0
	SeverityDebugSentinel Severity = -4.0
)

// Level is the human-facing severity bucket derived from a Severity.
type Level string

const (
	LevelLog           Level = "Log"
	LevelFalsePositive Level = "False Positive"
	LevelError         Level = "Error"
	LevelCritical      Level = "Critical"
	LevelHigh          Level = "High"
	LevelMedium        Level = "Medium"
	LevelLow           Level = "Low"
	LevelNone          Level = ""
)

// ToLevel implements the five-bucket classification from the severity
// banding table: the three sentinels map to fixed labels, (0,10] maps to
// Critical/High/Medium/Low bands, and anything else yields LevelNone plus
// an error the caller is expected to log at Warn.
func (s Severity) ToLevel() (Level, error) {
	switch s {
	case SeverityLogSentinel:
		return LevelLog, nil
	case SeverityFPSentinel:
		return LevelFalsePositive, nil
	case SeverityErrorSentinel, SeverityDebugSentinel:
		return LevelError, nil
	}
	switch {
	case s > 0 && s <= 10:
		switch {
		case s >= 9:
			return LevelCritical, nil
		case s >= 7:
			return LevelHigh, nil
		case s >= 4:
			return LevelMedium, nil
		default:
			return LevelLow, nil
		}
	default:
		return LevelNone, fmt.Errorf("severity %v out of the defined (0,10] domain", float64(s))
	}
}

// Weight sorts severities for "max severity" computations; sentinels sort
// below every real score.
func (s Severity) Weight() float64 {
	if s < 0 {
		return -1
	}
	return float64(s)
}
