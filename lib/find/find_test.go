package find

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs builds a sysfs tree with an Arduino on ttyACM0, a Prologix
// controller on ttyUSB0 and a motherboard port on ttyS0.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	mk := func(dir string, attrs map[string]string) {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		for k, v := range attrs {
			require.NoError(t, os.WriteFile(filepath.Join(root, dir, k), []byte(v+"\n"), 0o644))
		}
	}
	link := func(target, name string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, name)), 0o755))
		require.NoError(t, os.Symlink(filepath.Join(root, target), filepath.Join(root, name)))
	}

	acm := "devices/pci0000:00/usb1/1-10"
	mk(acm, map[string]string{
		"idProduct": "0043", "idVendor": "2341",
		"manufacturer": "Arduino (www.arduino.cc)", "serial": "A603UX94",
	})
	mk(acm+"/1-10:1.0/tty/ttyACM0", nil)
	link(acm+"/1-10:1.0", acm+"/1-10:1.0/tty/ttyACM0/device")
	link(acm+"/1-10:1.0/tty/ttyACM0", "class/tty/ttyACM0")

	ftdi := "devices/pci0000:00/usb1/1-2"
	mk(ftdi, map[string]string{
		"idProduct": "6001", "idVendor": "0403",
		"manufacturer": "Prologix", "product": "Prologix GPIB-USB Controller", "serial": "PXG6VRG6",
	})
	mk(ftdi+"/1-2:1.0/ttyUSB0/tty/ttyUSB0", nil)
	link(ftdi+"/1-2:1.0/ttyUSB0", ftdi+"/1-2:1.0/ttyUSB0/tty/ttyUSB0/device")
	link(ftdi+"/1-2:1.0/ttyUSB0/tty/ttyUSB0", "class/tty/ttyUSB0")

	mk("devices/platform/serial8250/tty/ttyS0", nil)
	link("devices/platform/serial8250/tty/ttyS0", "class/tty/ttyS0")
	return root
}

func TestAll(t *testing.T) {
	f := Finder{Root: fakeSysfs(t)}
	ttys, err := f.All()
	require.NoError(t, err)
	require.Len(t, ttys, 2)

	assert.Equal(t, "ttyACM0", ttys[0].Dev)
	assert.Equal(t, "2341", ttys[0].IDv)
	assert.Equal(t, "A603UX94", ttys[0].Serial)
	assert.Empty(t, ttys[0].Prod)

	assert.Equal(t, "ttyUSB0", ttys[1].Dev)
	assert.Equal(t, "0403", ttys[1].IDv)
	assert.Equal(t, "Prologix", ttys[1].Mfg)
	assert.Contains(t, ttys.String(), "ttyUSB0: 0403:6001 Prologix")
}

func TestFind(t *testing.T) {
	f := Finder{Root: fakeSysfs(t)}

	dev, err := f.Find(PrologixFilter)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", dev)

	dev, err = f.Find(AR488Filter)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", dev)

	dev, err = f.Find(SerialFilter("PXG6VRG6"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", dev)

	_, err = f.Find(SerialFilter("nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Find(nil)
	assert.ErrorContains(t, err, "multiple")
}

func TestFindMissingRoot(t *testing.T) {
	_, err := Finder{Root: filepath.Join(t.TempDir(), "nosys")}.All()
	assert.Error(t, err)
}
