package prologix

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/prologix/prologixtest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, opts ...ControllerOption) (*Controller, *prologixtest.Fake) {
	t.Helper()
	fake := prologixtest.New()
	c, err := NewController(fake, opts...)
	require.NoError(t, err)
	fake.Reset()
	return c, fake
}

func TestNewControllerInitSequence(t *testing.T) {
	fake := prologixtest.New()
	_, err := NewController(fake, WithAddress(4), WithClear())
	require.NoError(t, err)

	want := []string{
		"verbose 0",
		"savecfg 0",
		"mode 1",
		"auto 0",
		"eoi 1",
		"eos 0",
		"read_tmo_ms 500",
		"eot_char 10",
		"eot_enable 1",
		"addr 4",
		"clr",
	}
	if diff := cmp.Diff(want, fake.ControllerCommands()); diff != "" {
		t.Errorf("init commands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, fake.Addr())
}

func TestNewControllerAR488(t *testing.T) {
	fake := prologixtest.New()
	_, err := NewController(fake, WithAR488(), WithAddress(4), WithSecondaryAddress(101))
	require.NoError(t, err)
	cmds := fake.ControllerCommands()
	assert.NotContains(t, cmds, "verbose 0")
	assert.NotContains(t, cmds, "savecfg 0")
	assert.Contains(t, cmds, "addr 4 101")
}

func TestNewControllerLearnsAddress(t *testing.T) {
	fake := prologixtest.New() // powers up at address 10
	c, err := NewController(fake)
	require.NoError(t, err)
	assert.Equal(t, 10, c.curAddr)
	assert.Contains(t, fake.ControllerCommands(), "addr")
}

func TestNewControllerInvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		opts []ControllerOption
	}{
		{"primary too big", []ControllerOption{WithAddress(31)}},
		{"primary negative", []ControllerOption{WithAddress(-1)}},
		{"secondary too small", []ControllerOption{WithAddress(3), WithSecondaryAddress(95)}},
		{"secondary alone", []ControllerOption{WithSecondaryAddress(100)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewController(prologixtest.New(), tc.opts...)
			assert.Error(t, err)
		})
	}
}

func TestControllerQueries(t *testing.T) {
	c, fake := newTestController(t, WithAddress(6))
	fake.SRQ = true

	ver, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, "Prologix GPIB-USB Controller version 6.107", ver)

	auto, err := c.ReadAfterWrite()
	require.NoError(t, err)
	assert.False(t, auto)

	tmo, err := c.ReadTimeout()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, tmo)

	srq, err := c.ServiceRequest()
	require.NoError(t, err)
	assert.True(t, srq)

	term, err := c.GPIBTermination()
	require.NoError(t, err)
	assert.Equal(t, AppendCRLF, term)
	require.NoError(t, c.SetGPIBTermination(AppendLF))
	term, err = c.GPIBTermination()
	require.NoError(t, err)
	assert.Equal(t, AppendLF, term)

	pad, sad, err := c.InstrumentAddress()
	require.NoError(t, err)
	assert.Equal(t, 6, pad)
	assert.Zero(t, sad)
}

func TestSaveCfg(t *testing.T) {
	c, _ := newTestController(t)
	save, err := c.SaveCfg()
	require.NoError(t, err)
	assert.False(t, save)

	require.NoError(t, c.SetSaveCfg(true))
	save, err = c.SaveCfg()
	require.NoError(t, err)
	assert.True(t, save)

	old := prologixtest.New()
	old.NoSaveCfg = true
	c, err = NewController(old, WithAddress(1))
	require.NoError(t, err)
	_, err = c.SaveCfg()
	assert.ErrorIs(t, err, ErrSaveCfgUnsupported)
}

func TestControllerQueryInstrument(t *testing.T) {
	c, fake := newTestController(t, WithAddress(6))
	fake.Attach(6, prologixtest.Responses(map[string]string{"*idn?": "Agilent Technologies,33220A"}))

	idn, err := c.Query("  *idn?\n")
	require.NoError(t, err)
	assert.Equal(t, "Agilent Technologies,33220A", idn)
	// read-after-write is off, so the controller must be told to read
	assert.Equal(t, []string{"*idn?", "++read eoi"}, fake.Lines())
}

func TestControllerNoResponse(t *testing.T) {
	c, fake := newTestController(t, WithAddress(6))
	fake.Attach(6, prologixtest.Responses(nil))
	_, err := c.Query("*idn?")
	assert.ErrorIs(t, err, wanglib.ErrNoResponse)
}

func TestFrontPanelAndClear(t *testing.T) {
	c, fake := newTestController(t, WithAddress(6))
	fake.Attach(6, prologixtest.Responses(nil))
	require.NoError(t, c.ClearDevice())
	require.NoError(t, c.FrontPanel(true))
	assert.Equal(t, 1, fake.Cleared(6))
	assert.True(t, fake.Local(6))
	require.NoError(t, c.FrontPanel(false))
	assert.False(t, fake.Local(6))
}

func TestReadLineSkipsEmptyTerminator(t *testing.T) {
	c, fake := newTestController(t, WithAddress(6))
	// the instrument terminates with LF, then the controller adds its EOT LF
	fake.Attach(6, prologixtest.Responses(map[string]string{"ID": "5110\n"}))
	require.NoError(t, c.SetReadAfterWrite(true))
	s, err := c.Query("ID")
	require.NoError(t, err)
	assert.Equal(t, "5110", s)
	s, err = c.Query("ID")
	require.NoError(t, err)
	assert.Equal(t, "5110", s)
}

func TestWriteDelay(t *testing.T) {
	c, _ := newTestController(t, WithWriteDelay(20*time.Millisecond))
	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, c.CommandController("loc"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestOpenEthernet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fake := prologixtest.New()
	fake.Attach(12, prologixtest.Responses(map[string]string{"*IDN?": "KEITHLEY,2400"}))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fake.Serve(conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var reg Registry
	c, err := reg.Ethernet(ctx, ln.Addr().String())
	require.NoError(t, err)
	again, err := reg.Ethernet(ctx, ln.Addr().String())
	require.NoError(t, err)
	assert.Same(t, c, again)

	idn, err := c.Instrument(12).Ask("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "KEITHLEY,2400", idn)

	require.NoError(t, reg.Close())
	wg.Wait()
}

func TestOpenEthernetRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = OpenEthernet(context.Background(), addr)
	require.Error(t, err)
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}

func TestParseAddr(t *testing.T) {
	pad, sad, err := parseAddr("5 96")
	require.NoError(t, err)
	assert.Equal(t, 5, pad)
	assert.Equal(t, 96, sad)
	_, _, err = parseAddr("")
	assert.Error(t, err)
}

func TestGpibTermString(t *testing.T) {
	assert.Equal(t, `Append LF (\n) to instrument commands`, AppendLF.String())
}
