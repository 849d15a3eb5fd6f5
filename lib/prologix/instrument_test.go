package prologix

import (
	"testing"
	"time"

	"github.com/baldwint/wanglib/lib/prologix/prologixtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentPrioritySwitching(t *testing.T) {
	c, fake := newTestController(t, WithAddress(5))
	fake.Attach(5, prologixtest.Responses(map[string]string{"ID?": "SR830"}))
	fake.Attach(7, prologixtest.Responses(map[string]string{"ID?": "AG8648"}))

	lockin := c.Instrument(5)
	siggen := c.Instrument(7)

	s, err := lockin.Ask("ID?")
	require.NoError(t, err)
	assert.Equal(t, "SR830", s)
	// controller was already at 5 but read-after-write was off
	assert.Equal(t, []string{"++auto 1", "ID?"}, fake.Lines())

	fake.Reset()
	s, err = siggen.Ask("ID?")
	require.NoError(t, err)
	assert.Equal(t, "AG8648", s)
	assert.Equal(t, []string{"++addr 7", "ID?"}, fake.Lines())

	// repeated exchanges with the same instrument send no ++ commands
	fake.Reset()
	_, err = siggen.Ask("ID?")
	require.NoError(t, err)
	assert.Empty(t, fake.ControllerCommands())

	fake.Reset()
	_, err = lockin.Ask("ID?")
	require.NoError(t, err)
	assert.Equal(t, []string{"addr 5"}, fake.ControllerCommands())
}

func TestInstrumentWithoutAuto(t *testing.T) {
	c, fake := newTestController(t, WithAddress(1), WithReadAfterWrite(true))
	fake.Attach(1, prologixtest.Responses(map[string]string{":SENS:WAVE?": "1550.00"}))

	laser := c.Instrument(1, WithAuto(false))
	s, err := laser.Ask(":SENS:WAVE?")
	require.NoError(t, err)
	assert.Equal(t, "1550.00", s)
	assert.Equal(t, []string{"++auto 0", ":SENS:WAVE?", "++read eoi"}, fake.Lines())
	assert.False(t, fake.Auto())
}

func TestInstrumentWriteThenRead(t *testing.T) {
	c, fake := newTestController(t, WithAddress(3))
	fake.Attach(3, prologixtest.Responses(map[string]string{"POS?": "12.5"}))
	stage := c.Instrument(3, WithAuto(false))

	require.NoError(t, stage.Command("%s", "POS?"))
	s, err := stage.Read()
	require.NoError(t, err)
	assert.Equal(t, "12.5", s)
	assert.Equal(t, []string{"POS?"}, fake.Commands(3))
}

func TestInstrumentDelay(t *testing.T) {
	c, fake := newTestController(t, WithAddress(2))
	fake.Attach(2, prologixtest.Responses(nil))
	slow := c.Instrument(2, WithDelay(30*time.Millisecond))

	start := time.Now()
	require.NoError(t, slow.Write("A"))
	require.NoError(t, slow.Write("B"))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestInstrumentInvalidAddress(t *testing.T) {
	c, fake := newTestController(t, WithAddress(2))
	err := c.Instrument(31).Write("*RST")
	assert.Error(t, err)
	assert.Empty(t, fake.Lines())
}

func TestInstrumentClearAndLocal(t *testing.T) {
	c, fake := newTestController(t, WithAddress(2))
	fake.Attach(9, prologixtest.Responses(nil))
	inst := c.Instrument(9)
	require.NoError(t, inst.Clear())
	require.NoError(t, inst.Local())
	assert.Equal(t, 1, fake.Cleared(9))
	assert.True(t, fake.Local(9))
	assert.Equal(t, 9, inst.Addr())
	assert.Same(t, c, inst.Controller())
}
