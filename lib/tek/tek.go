// Package tek drives Tektronix TDS3000 series oscilloscopes over any
// wanglib.Bus (GPIB, RS-232 or Ethernet).
package tek

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/gotmc/query"
)

// TimeDivs are the time-per-division settings the scope accepts, in
// seconds. Slower models stop at 2 or 4 ns.
var TimeDivs = []float64{
	10, 4, 2, 1,
	4e-1, 2e-1, 1e-1,
	4e-2, 2e-2, 1e-2,
	4e-3, 2e-3, 1e-3,
	4e-4, 2e-4, 1e-4,
	4e-5, 2e-5, 1e-5,
	4e-6, 2e-6, 1e-6,
	4e-7, 2e-7, 1e-7,
	4e-8, 2e-8, 1e-8,
	4e-9, 2e-9, 1e-9,
}

// TDS3000 is a TDS3000 series scope.
type TDS3000 struct {
	bus wanglib.Bus
}

// NewTDS3000 returns the scope on bus. Over RS-232 use hardware flow
// control and a null modem cable.
func NewTDS3000(bus wanglib.Bus) *TDS3000 {
	return &TDS3000{bus: bus}
}

// TimeDiv returns the horizontal scale in seconds per division.
func (s *TDS3000) TimeDiv() (float64, error) {
	return query.Float64(s.bus, "HOR:MAI:SCA?")
}

// SetTimeDiv sets the horizontal scale. v is rounded to one significant
// digit and must then be one of TimeDivs.
func (s *TDS3000) SetTimeDiv(v float64) error {
	r := wanglib.SciRound(v, 1)
	if !slices.Contains(TimeDivs, r) {
		return wanglib.Errorf("TDS3000", "set time/div", wanglib.ErrOutOfRange,
			"%g s is not in the 1-2-4 sequence from 10 s to 1 ns", v)
	}
	return s.bus.Command("HOR:MAI:SCA %.0E", r)
}

// Curve reads the displayed waveform of channel ch (1-4) in digitizer
// levels.
func (s *TDS3000) Curve(ch int) ([]int, error) {
	if ch < 1 || ch > 4 {
		return nil, wanglib.Errorf("TDS3000", "read curve", wanglib.ErrOutOfRange, "no channel %d", ch)
	}
	if err := s.bus.Command("DATA:SOU CH%d", ch); err != nil {
		return nil, err
	}
	if err := s.bus.Command("DATA:ENC ASCI"); err != nil {
		return nil, err
	}
	resp, err := s.bus.Query("CURV?")
	if err != nil {
		return nil, err
	}
	return ParseCurve(resp)
}

// ParseCurve parses an ASCII curve, optionally headed ":CURVE ".
func ParseCurve(resp string) ([]int, error) {
	resp = strings.TrimSpace(resp)
	if i := strings.IndexByte(resp, ' '); i >= 0 && strings.HasPrefix(strings.ToUpper(resp), ":CURV") {
		resp = resp[i+1:]
	}
	if resp == "" {
		return nil, fmt.Errorf("%w: empty curve", wanglib.ErrNoResponse)
	}
	fields := strings.Split(resp, ",")
	pts := make([]int, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: curve point %d: %q", wanglib.ErrUnexpectedResponse, i, f)
		}
		pts = append(pts, v)
	}
	return pts, nil
}
