package connutil

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/baldwint/wanglib/lib/find"
	"github.com/baldwint/wanglib/lib/prologix/prologixtest"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlags(t *testing.T) {
	c := Defaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--transport=ethernet", "--host=10.0.0.5", "--addr=8", "--sad=96",
		"--delay=50ms", "--ar488",
	}))
	assert.Equal(t, Ethernet, c.Transport)
	assert.Equal(t, "10.0.0.5", c.Host)
	assert.Equal(t, 8, c.Addr)
	assert.Equal(t, 96, c.SAD)
	assert.Equal(t, 50*time.Millisecond, c.Delay)
	assert.Equal(t, 500*time.Millisecond, c.ReadTimeout)
	assert.True(t, c.AR488)
	assert.Len(t, c.Options(), 6)
}

func TestPort(t *testing.T) {
	c := Conn{SerialPort: "/dev/ttyUSBgpib"}
	port, err := c.Port()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSBgpib", port)

	c = Conn{Finder: find.Finder{Root: filepath.Join(t.TempDir(), "sys")}}
	_, err = c.Port()
	assert.ErrorContains(t, err, "--port")
}

func TestOpenEthernet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fake := prologixtest.New()
	fake.Attach(8, prologixtest.Responses(map[string]string{"*IDN?": "Stanford_Research_Systems,SR830"}))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fake.Serve(conn)
	}()

	c := Defaults()
	c.Transport = Ethernet
	c.Host = ln.Addr().String()
	c.Addr = 8
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl, cleanup, err := c.Open(ctx)
	require.NoError(t, err)
	idn, err := ctrl.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "Stanford_Research_Systems,SR830", idn)

	require.NoError(t, cleanup())
	assert.Eventually(t, func() bool { return fake.Local(8) }, time.Second, 5*time.Millisecond)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	c := Conn{Transport: Ethernet}
	_, _, err := c.Open(ctx)
	assert.ErrorContains(t, err, "--host")

	c = Conn{Transport: "carrier pigeon"}
	_, _, err = c.Open(ctx)
	assert.ErrorContains(t, err, "unknown transport")
}
