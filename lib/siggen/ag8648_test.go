package siggen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/prologix"
	"github.com/baldwint/wanglib/lib/prologix/prologixtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfState is a minimal 8648 model.
type rfState struct {
	mu  sync.Mutex
	on  bool
	log []string
}

func (s *rfState) handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, cmd)
	switch cmd {
	case "OUTP:STAT?":
		if s.on {
			return "1"
		}
		return "0"
	case "OUTP:STAT ON":
		s.on = true
	case "OUTP:STAT OFF":
		s.on = false
	case "PULM:STAT?":
		return "0"
	case "POW:AMPL?":
		return "-5.0"
	case "FREQ:CW?":
		return "80000000"
	}
	return ""
}

func newGen(t *testing.T, st *rfState) (*AG8648, *prologixtest.Fake) {
	t.Helper()
	fake := prologixtest.New()
	fake.Attach(DefaultAddress, st.handle)
	plx, err := prologix.NewController(fake, prologix.WithAddress(DefaultAddress))
	require.NoError(t, err)
	fake.Reset()
	return NewAG8648(plx.Instrument(DefaultAddress)), fake
}

func TestAG8648Readings(t *testing.T) {
	g, _ := newGen(t, &rfState{on: true})
	on, err := g.On()
	require.NoError(t, err)
	assert.True(t, on)
	pulse, err := g.Pulse()
	require.NoError(t, err)
	assert.False(t, pulse)
	amp, err := g.Amplitude()
	require.NoError(t, err)
	assert.Equal(t, -5.0, amp)
	f, err := g.Frequency()
	require.NoError(t, err)
	assert.Equal(t, 80.0, f)
}

func TestAG8648Settings(t *testing.T) {
	g, fake := newGen(t, &rfState{})
	require.NoError(t, g.SetAmplitude(-10, ""))
	require.NoError(t, g.SetAmplitude(3.14, "mv"))
	require.NoError(t, g.SetFrequency(80.123456, ""))
	require.NoError(t, g.SetFrequency(455, "khz"))
	require.NoError(t, g.SetPulse(true))
	assert.ErrorIs(t, g.SetAmplitude(1, "W"), wanglib.ErrOutOfRange)
	assert.ErrorIs(t, g.SetFrequency(1, "GHZ"), wanglib.ErrOutOfRange)
	assert.Equal(t, []string{
		"POW:AMPL -10.0 DBM",
		"POW:AMPL 3.1 MV",
		"FREQ:CW 80.12346 MHZ",
		"FREQ:CW 455.00 KHZ",
		"PULM:STAT ON",
	}, fake.Commands(DefaultAddress))
}

func TestAG8648BlinkRestoresState(t *testing.T) {
	st := &rfState{on: false}
	g, _ := newGen(t, st)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.NoError(t, g.Blink(ctx, 20*time.Millisecond))

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.False(t, st.on)
	assert.Contains(t, st.log, "OUTP:STAT ON")
	assert.Contains(t, st.log, "OUTP:STAT OFF")
	assert.Equal(t, "OUTP:STAT OFF", st.log[len(st.log)-1])
}
