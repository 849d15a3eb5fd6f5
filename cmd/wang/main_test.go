package main

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/baldwint/wanglib/lib/prologix/prologixtest"
	"github.com/baldwint/wanglib/lib/record"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve accepts connections for fake until the test ends.
func serve(t *testing.T, fake *prologixtest.Fake) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = fake.Serve(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func wang(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func sr830(t *testing.T) (*prologixtest.Fake, string) {
	fake := prologixtest.New()
	fake.Attach(8, prologixtest.Responses(map[string]string{
		"*IDN?":  "Stanford_Research_Systems,SR830,s/n12345,ver1.07",
		"OUTP?1": "0.25",
		"OUTP?3": "0.5",
	}))
	return fake, serve(t, fake)
}

func TestAsk(t *testing.T) {
	_, host := sr830(t)
	out, err := wang(t, "", "ask", "--transport=ethernet", "--host="+host, "--addr=8", "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "Stanford_Research_Systems,SR830,s/n12345,ver1.07\n", out)
}

func TestWrite(t *testing.T) {
	fake, host := sr830(t)
	_, err := wang(t, "", "write", "--transport=ethernet", "--host="+host, "--addr=8", "OFLT", "9")
	require.NoError(t, err)
	// write returns once the bytes are on the socket
	assert.Eventually(t, func() bool {
		return slices.Contains(fake.Commands(8), "OFLT 9")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestVer(t *testing.T) {
	_, host := sr830(t)
	out, err := wang(t, "", "ver", "--transport=ethernet", "--host="+host)
	require.NoError(t, err)
	assert.Equal(t, "Prologix GPIB-USB Controller version 6.107\n", out)
}

func TestConfigFile(t *testing.T) {
	_, host := sr830(t)
	cfg := filepath.Join(t.TempDir(), "lab.yml")
	require.NoError(t, os.WriteFile(cfg, []byte("transport: ethernet\nhost: "+host+"\naddr: 3\n"), 0o644))

	// the flag beats the file
	out, err := wang(t, "", "ask", "--config="+cfg, "--addr=8", "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, out, "SR830")

	t.Setenv("WANGLIB_CONFIG_FILE", cfg)
	t.Setenv("WANGLIB_ADDR", "8")
	out, err = wang(t, "", "ask", "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, out, "SR830")

	_, err = wang(t, "", "ver", "--config="+filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestTerm(t *testing.T) {
	fake, host := sr830(t)
	in := strings.Join([]string{"*IDN?", "", "OFLT 9", "++ver", "++loc", "quit", "*IDN?"}, "\n")
	out, err := wang(t, in, "term", "--transport=ethernet", "--host="+host, "--addr=8")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"Stanford_Research_Systems,SR830,s/n12345,ver1.07"`)
	assert.Contains(t, lines[1], "OFLT 9()")
	assert.Contains(t, lines[2], "version 6.107")
	assert.Contains(t, lines[3], "++loc()")
	assert.Equal(t, []string{"*IDN?", "OFLT 9"}, fake.Commands(8))
}

func TestMonitor(t *testing.T) {
	_, host := sr830(t)
	db := filepath.Join(t.TempDir(), "runs.db")
	out, err := wang(t, "", "monitor", "--transport=ethernet", "--host="+host, "--addr=8",
		"--channels=X,R", "--interval=1ms", "--count=3", "--db="+db)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		f := strings.Split(l, "\t")
		require.Len(t, f, 4)
		assert.Equal(t, f[0], f[2])
		assert.Equal(t, "0.25", f[1])
		assert.Equal(t, "0.5", f[3])
	}

	store, err := record.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "monitor sr830 X,R", runs[0].Name)
	assert.Equal(t, 3, runs[0].Samples)
}

func TestMonitorPlot(t *testing.T) {
	_, host := sr830(t)
	img := filepath.Join(t.TempDir(), "live.png")
	_, err := wang(t, "", "monitor", "--transport=ethernet", "--host="+host, "--addr=8",
		"--channels=X,R", "--axes=0,1", "--interval=1ms", "--count=5", "--refresh=0", "--plot="+img)
	require.NoError(t, err)
	f, err := os.Open(img)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestMonitorNeedsAddr(t *testing.T) {
	_, host := sr830(t)
	_, err := wang(t, "", "monitor", "--transport=ethernet", "--host="+host, "--count=1")
	assert.ErrorContains(t, err, "--addr")
}

func TestGrating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defl.png")
	out, err := wang(t, "", "grating", path, "--kind=zebra", "--width=40", "--height=20", "--spacing=10")
	require.NoError(t, err)
	assert.Contains(t, out, "zebra, spacing 10 px")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = wang(t, "", "grating", path, "--kind=checkerboard")
	assert.ErrorContains(t, err, "unknown grating kind")
}

func TestSpread(t *testing.T) {
	readings := []float64{1, 2}
	src := func(yield func(acquire.Sample, error) bool) {
		for i := range 2 {
			readings[0], readings[1] = float64(i), float64(10*i)
			if !yield(acquire.XY(float64(i), readings[0]), nil) {
				return
			}
		}
	}
	got, err := acquire.Collect(spread(src, readings))
	require.NoError(t, err)
	want := []acquire.Sample{{0, 0, 0, 0}, {1, 1, 1, 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("spread (-want +got):\n%s", diff)
	}
}

func TestFormatSample(t *testing.T) {
	assert.Equal(t, "1.5\t-2e-06", formatSample(acquire.Sample{1.5, -2e-6}))
}
