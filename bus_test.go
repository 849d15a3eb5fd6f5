package wanglib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNum(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12", 12},
		{"-3", -3},
		{" 5110\n", 5110},
		{"1.5", 1.5},
		{"1E-3", 0.001},
		{"9007199254740993", 9007199254740992},
	}
	for _, tc := range tests {
		got, err := Num(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := Num("OK")
	assert.Error(t, err)
}

func TestSciRound(t *testing.T) {
	assert.Equal(t, 4e-9, SciRound(3.96e-9, 1))
	assert.Equal(t, 0.2, SciRound(0.23, 1))
	assert.Equal(t, 10.0, SciRound(9.7, 1))
	assert.Equal(t, 120.0, SciRound(123, 2))
	assert.Equal(t, 0.0, SciRound(0, 3))
}

func TestShowNewlines(t *testing.T) {
	assert.Equal(t, "OK<CR><LF>", ShowNewlines("OK\r\n"))
}

func TestInstrumentError(t *testing.T) {
	err := Errorf("EGG5110", "identify", ErrUnexpectedResponse, "got %q", "7220")
	assert.Equal(t, `EGG5110 identify: got "7220": unexpected response`, err.Error())
	assert.True(t, errors.Is(err, ErrUnexpectedResponse))

	var ie *InstrumentError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "identify", ie.Op)
}

func TestQuantitySeconds(t *testing.T) {
	s, err := Quantity{300, "ms"}.Seconds()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, s, 1e-12)

	s, err = Quantity{0, "MIN"}.Seconds()
	require.NoError(t, err)
	assert.Zero(t, s)

	_, err = Quantity{1, "fortnight"}.Seconds()
	assert.Error(t, err)
	assert.Equal(t, "200 uV", Quantity{200, "uV"}.String())
}
