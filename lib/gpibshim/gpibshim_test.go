package gpibshim

import (
	"bytes"
	"io"
	"testing"

	"github.com/baldwint/wanglib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDevice answers every write with a canned response.
type echoDevice struct {
	written bytes.Buffer
	resp    string
	pending string
}

func (e *echoDevice) Write(p []byte) (int, error) {
	e.written.Write(p)
	e.pending = e.resp
	return len(p), nil
}

func (e *echoDevice) Read(p []byte) (int, error) {
	if e.pending == "" {
		return 0, io.EOF
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func TestAskStripsTrailingWhitespace(t *testing.T) {
	dev := &echoDevice{resp: "Stanford_Research_Systems,SR830\r\n"}
	d := New(dev)
	s, err := d.Ask("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "Stanford_Research_Systems,SR830", s)
	assert.Equal(t, "*IDN?\n", dev.written.String())
}

func TestCommandTerminator(t *testing.T) {
	dev := &echoDevice{}
	d := New(dev, WithTerminator("\r\n"))
	require.NoError(t, d.Command("OUTP:STAT %s", "ON"))
	assert.Equal(t, "OUTP:STAT ON\r\n", dev.written.String())
}

func TestReadNothing(t *testing.T) {
	d := New(&echoDevice{})
	_, err := d.Read()
	assert.ErrorIs(t, err, wanglib.ErrNoResponse)
}

func TestReadSize(t *testing.T) {
	dev := &echoDevice{resp: "123456"}
	d := New(dev, WithReadSize(3))
	s, err := d.Query("X")
	require.NoError(t, err)
	assert.Equal(t, "123", s)
}
