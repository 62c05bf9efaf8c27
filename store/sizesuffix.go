package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SizeSuffix is a byte count which parses and prints with binary
// suffixes, eg "4Ki" or "100M". A negative value means "off".
type SizeSuffix int64

// Common multipliers for SizeSuffix
const (
	SizeSuffixBase SizeSuffix = 1 << (iota * 10)
	Kibi
	Mebi
	Gibi
	Tebi
	Pebi
	Exbi
)

// sizeScales holds the printable scales, largest first, so format can
// pick the first one that fits.
var sizeScales = []struct {
	suffix string
	scale  SizeSuffix
}{
	{"Ei", Exbi},
	{"Pi", Pebi},
	{"Ti", Tebi},
	{"Gi", Gibi},
	{"Mi", Mebi},
	{"Ki", Kibi},
}

// format renders the value and the suffix it was scaled to.
func (x SizeSuffix) format() (string, string) {
	if x < 0 {
		return "off", ""
	}
	for _, s := range sizeScales {
		if x < s.scale {
			continue
		}
		scaled := float64(x) / float64(s.scale)
		if math.Floor(scaled) == scaled {
			return fmt.Sprintf("%.0f", scaled), s.suffix
		}
		return fmt.Sprintf("%.3f", scaled), s.suffix
	}
	return strconv.FormatInt(int64(x), 10), ""
}

// String turns SizeSuffix into a string
func (x SizeSuffix) String() string {
	val, suffix := x.format()
	return val + suffix
}

// unit turns SizeSuffix into a string with a unit
func (x SizeSuffix) unit(unit string) string {
	val, suffix := x.format()
	if val == "off" {
		return val
	}
	return val + " " + suffix + unit
}

// ByteShortUnit turns SizeSuffix into a string with byte unit short form
func (x SizeSuffix) ByteShortUnit() string {
	return x.unit("B")
}

// sizeMultipliers maps a suffix symbol to its multiplier.
var sizeMultipliers = map[byte]SizeSuffix{
	'k': Kibi, 'K': Kibi,
	'm': Mebi, 'M': Mebi,
	'g': Gibi, 'G': Gibi,
	't': Tebi, 'T': Tebi,
	'p': Pebi, 'P': Pebi,
	'e': Exbi, 'E': Exbi,
}

// splitSizeSuffix separates the number part of s from its suffix and
// returns the multiplier the suffix stands for. A value without any
// suffix counts in KiB, which the command line has always done.
func splitSizeSuffix(s string) (string, SizeSuffix, error) {
	last := s[len(s)-1]
	switch {
	case last >= '0' && last <= '9', last == '.':
		return s, Kibi, nil
	case last == 'b' || last == 'B':
		// full binary units like KiB, otherwise a plain byte count
		if len(s) > 2 && s[len(s)-2] == 'i' {
			if mult, ok := sizeMultipliers[s[len(s)-3]]; ok {
				return s[:len(s)-3], mult, nil
			}
			return "", 0, errors.Errorf("bad suffix %q", s[len(s)-3])
		}
		return s[:len(s)-1], SizeSuffixBase, nil
	case last == 'i' || last == 'I':
		if len(s) > 1 {
			if mult, ok := sizeMultipliers[s[len(s)-2]]; ok {
				return s[:len(s)-2], mult, nil
			}
		}
		return "", 0, errors.Errorf("bad suffix %q", last)
	}
	if mult, ok := sizeMultipliers[last]; ok {
		return s[:len(s)-1], mult, nil
	}
	return "", 0, errors.Errorf("bad suffix %q", last)
}

// Set a SizeSuffix
func (x *SizeSuffix) Set(s string) error {
	if len(s) == 0 {
		return errors.New("empty string")
	}
	if strings.ToLower(s) == "off" {
		*x = -1
		return nil
	}
	num, multiplier, err := splitSizeSuffix(s)
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return err
	}
	if value < 0 {
		return errors.Errorf("size can't be negative %q", s)
	}
	*x = SizeSuffix(value * float64(multiplier))
	return nil
}

// Type of the value
func (x *SizeSuffix) Type() string {
	return "SizeSuffix"
}

// Scan implements the fmt.Scanner interface
func (x *SizeSuffix) Scan(s fmt.ScanState, ch rune) error {
	token, err := s.Token(true, nil)
	if err != nil {
		return err
	}
	return x.Set(string(token))
}

// UnmarshalJSONFlag sets a flag from its JSON encoding, which may be
// either a bare integer passed to setInt or a string for the flag's
// Set method.
func UnmarshalJSONFlag(in []byte, x interface{ Set(string) error }, setInt func(int64) error) error {
	var i int64
	if err := json.Unmarshal(in, &i); err == nil {
		return setInt(i)
	}
	var s string
	if err := json.Unmarshal(in, &s); err != nil {
		return err
	}
	return x.Set(s)
}

// UnmarshalJSON makes sure the value can be parsed as a string or integer in JSON
func (x *SizeSuffix) UnmarshalJSON(in []byte) error {
	return UnmarshalJSONFlag(in, x, func(i int64) error {
		*x = SizeSuffix(i)
		return nil
	})
}

// UnmarshalYAML makes sure the value can be parsed as a string or
// integer in YAML. A bare integer is a byte count.
func (x *SizeSuffix) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var i int64
	if err := unmarshal(&i); err == nil {
		*x = SizeSuffix(i)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return x.Set(s)
}

// MarshalYAML turns the value back into the string form
func (x SizeSuffix) MarshalYAML() (interface{}, error) {
	return x.String(), nil
}
