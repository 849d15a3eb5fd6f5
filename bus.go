// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package wanglib

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bus is the low-level connection an instrument driver talks through. It
// mirrors the write/ask surface of a VISA instrument. Any Bus is also a
// github.com/gotmc/query Querier.
type Bus interface {
	// Command formats according to a format specifier if arguments are
	// provided and sends the result to the instrument.
	Command(format string, a ...any) error
	// Query sends cmd and returns the instrument's response with trailing
	// whitespace removed.
	Query(cmd string) (string, error)
}

// Sentinel errors wrapped by InstrumentError.
var (
	ErrNoResponse         = errors.New("no response")
	ErrOutOfRange         = errors.New("value out of range")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// InstrumentError reports a failed exchange with an instrument.
type InstrumentError struct {
	Instrument string // model name, e.g. "SR830"
	Op         string // what was being done, e.g. "read ADC"
	Msg        string
	Err        error
}

func (e *InstrumentError) Error() string {
	var b strings.Builder
	b.WriteString(e.Instrument)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InstrumentError) Unwrap() error { return e.Err }

// Errorf builds an InstrumentError wrapping err with a formatted message.
func Errorf(instrument, op string, err error, format string, a ...any) error {
	return &InstrumentError{
		Instrument: instrument,
		Op:         op,
		Msg:        fmt.Sprintf(format, a...),
		Err:        err,
	}
}

// Num converts an instrument response to a number. Strings without a decimal
// point are parsed as integers so that large counts survive exactly.
func Num(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return float64(i), nil
		}
		// exponent forms like 1E-3 have no decimal point
	}
	return strconv.ParseFloat(s, 64)
}

// SciRound rounds v to the given number of significant digits.
func SciRound(v float64, digits int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) || digits < 1 {
		return v
	}
	// format through strconv to avoid binary drift (4e-9 stays 4e-9)
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'e', digits-1, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// ShowNewlines replaces CR and LF with visible markers. Useful for
// debugging terminators.
func ShowNewlines(s string) string {
	return strings.NewReplacer("\r", "<CR>", "\n", "<LF>").Replace(s)
}

// Quantity is a reading together with the unit the instrument reports it
// in, such as a lock-in sensitivity of 200 uV.
type Quantity struct {
	Value float64
	Unit  string
}

func (q Quantity) String() string {
	return strconv.FormatFloat(q.Value, 'g', -1, 64) + " " + q.Unit
}

var secondsPerUnit = map[string]float64{
	"MIN": 0, // EG&G 5110 "minimum" time constant
	"us":  1e-6,
	"ms":  1e-3,
	"s":   1,
	"ks":  1e3,
}

// Seconds converts a time quantity to seconds.
func (q Quantity) Seconds() (float64, error) {
	f, ok := secondsPerUnit[q.Unit]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", q.Unit)
	}
	return q.Value * f, nil
}
