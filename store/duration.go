package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration which also accepts age suffixes like
// "7d" and the special value "off".
type Duration time.Duration

// DurationOff is the default value for intervals which can be turned off
const DurationOff = Duration((1 << 63) - 1)

// ageUnits are the calendar units accepted on top of the time.Duration
// ones, largest first so String picks the biggest fitting unit.
var ageUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"y", 365 * 24 * time.Hour},
	{"M", 30 * 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
	{"d", 24 * time.Hour},
}

// Turn Duration into a string
func (d Duration) String() string {
	if d == DurationOff {
		return "off"
	}
	for _, age := range ageUnits {
		if math.Abs(float64(d)) >= float64(age.unit) {
			return strconv.FormatFloat(float64(d)/float64(age.unit), 'f', -1, 64) + age.suffix
		}
	}
	return time.Duration(d).String()
}

// IsSet returns if the duration is != DurationOff
func (d Duration) IsSet() bool {
	return d != DurationOff
}

// ParseDuration parses a duration string. On top of the time.ParseDuration
// suffixes it accepts d|w|M|y, plain numbers count in seconds, and "off"
// stands for DurationOff.
func ParseDuration(age string) (time.Duration, error) {
	if age == "off" {
		return time.Duration(DurationOff), nil
	}
	if d, err := time.ParseDuration(age); err == nil {
		return d, nil
	}
	number, unit := age, time.Second
	for _, u := range ageUnits {
		if strings.HasSuffix(age, u.suffix) {
			number, unit = age[:len(age)-len(u.suffix)], u.unit
			break
		}
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(value * float64(unit)), nil
}

// Set a Duration
func (d *Duration) Set(s string) error {
	duration, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Type of the value
func (d Duration) Type() string {
	return "Duration"
}

// Scan implements the fmt.Scanner interface
func (d *Duration) Scan(s fmt.ScanState, ch rune) error {
	token, err := s.Token(true, nil)
	if err != nil {
		return err
	}
	return d.Set(string(token))
}

// UnmarshalJSON makes sure the value can be parsed as a string or integer in JSON
func (d *Duration) UnmarshalJSON(in []byte) error {
	return UnmarshalJSONFlag(in, d, func(i int64) error {
		*d = Duration(i)
		return nil
	})
}

// UnmarshalYAML makes sure the value can be parsed as a string or
// integer in YAML. A bare integer is in nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var i int64
	if err := unmarshal(&i); err == nil {
		*d = Duration(i)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.Set(s)
}

// MarshalYAML turns the value back into the string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
