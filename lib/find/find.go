// Package find locates USB serial devices, such as a Prologix GPIB-USB
// controller or an AR488 Arduino, by walking Linux sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/baldwint/wanglib/lib/logging"
)

// ErrNotFound is returned when no tty matches.
var ErrNotFound = errors.New("no matching ttys found")

// FilterFn picks devices.
type FilterFn func(*Usbtty) bool

// PrologixFilter matches Prologix GPIB-USB controllers.
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Prologix") || strings.Contains(ut.Prod, "Prologix")
}

// AR488Filter matches Arduinos, which is what AR488 GPIB adapters are.
func AR488Filter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino")
}

// SerialFilter matches the device with the given USB serial number.
func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// Usbtty is a tty provided by a USB device.
type Usbtty struct {
	Dev, Path string // e.g. ttyUSB0, and its resolved sysfs path
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

// DevPath returns the device node, e.g. /dev/ttyUSB0.
func (u Usbtty) DevPath() string { return filepath.Join("/dev", u.Dev) }

func (u Usbtty) String() string {
	return fmt.Sprintf("%s: %s:%s %s %s (serial %s)", u.Dev, u.IDv, u.IDp, u.Mfg, u.Prod, u.Serial)
}

// Usbttys is a list of devices, printed one per line.
type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// Finder walks a sysfs tree.
type Finder struct {
	// Root is the sysfs mount point. Empty means /sys.
	Root string
}

// Default is the Finder for the running system.
var Default = Finder{}

// Find is Default.Find.
func Find(filter FilterFn) (string, error) { return Default.Find(filter) }

// All is Default.All.
func All() (Usbttys, error) { return Default.All() }

func (f Finder) root() string {
	if f.Root == "" {
		return "/sys"
	}
	return f.Root
}

// Find returns the device node of the only tty that filter accepts (or the
// only tty at all, when filter is nil).
func (f Finder) Find(filter FilterFn) (string, error) {
	ttys, err := f.All()
	if err != nil {
		return "", err
	}
	var match Usbttys
	for i := range ttys {
		if filter == nil || filter(&ttys[i]) {
			match = append(match, ttys[i])
		}
	}
	switch len(match) {
	case 0:
		return "", ErrNotFound
	case 1:
		return match[0].DevPath(), nil
	}
	return "", fmt.Errorf("multiple ttys match:\n%s", match)
}

// All lists ttys on USB devices.
func (f Finder) All() (Usbttys, error) {
	log := logging.WithComponent("find")
	root := f.root()
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	sct := filepath.Join(root, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// class/tty/ttyACM0 -> devices/pci0000:00/.../usb1/1-10/1-10:1.0/tty/ttyACM0
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping unresolvable tty")
			continue
		}
		if rel, err := filepath.Rel(root, abs); err != nil || !strings.Contains(rel, "usb") {
			continue
		}
		ut := Usbtty{Dev: e.Name(), Path: abs}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Warn().Err(err).Str("path", abs).Msg("usb tty without device link")
			devs = append(devs, ut)
			continue
		}
		// ACM ttys hang off the interface, FTDI ttys one level lower; the
		// ids live on the device above both.
		if usbDev := deviceDir(dev, root); usbDev != "" {
			if err := readUsbInfo(usbDev, &ut); err != nil {
				log.Warn().Err(err).Str("path", usbDev).Msg("reading usb attributes")
			}
		}
		devs = append(devs, ut)
	}
	return devs, nil
}

// deviceDir walks up from dir to the first directory holding idVendor.
func deviceDir(dir, root string) string {
	for d := dir; len(d) > len(root); d = filepath.Dir(d) {
		if _, err := os.Stat(filepath.Join(d, "idVendor")); err == nil {
			return d
		}
	}
	return ""
}

// readUsbInfo fills in ids and strings. Missing files are skipped; the last
// other error is returned, after reading everything possible.
func readUsbInfo(dev string, ut *Usbtty) (err error) {
	for name, dst := range map[string]*string{
		"idProduct":    &ut.IDp,
		"idVendor":     &ut.IDv,
		"manufacturer": &ut.Mfg,
		"product":      &ut.Prod,
		"serial":       &ut.Serial,
	} {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = rerr
		}
		*dst = strings.TrimSpace(string(b))
	}
	return err
}
