// Package cmdlog echoes instrument traffic to a terminal in colour, for
// interactive sessions such as `wang term`.
package cmdlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/charmbracelet/lipgloss"
)

func isASCII(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

// Styles.
var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// FormatResponse renders a response for display: quoted when it is text,
// with hex alongside (short) or instead (long) when it is binary.
func FormatResponse(a string) string {
	a = strings.TrimSuffix(a, "\n") // appended by the AR488
	if len(a) == 1 && a[0] == 0xff {
		// some instruments answer 0xff when the last command has no result
		a = ""
	}
	switch {
	case len(a) == 0:
		return R1Style.Render("<no response>")
	case isASCII(a):
		return fmt.Sprintf("[%d] %s", len(a), R2Style.Render(fmt.Sprintf("%q", a)))
	case len(a) < 32:
		return fmt.Sprintf("[%d] %s (% 2x)", len(a), R2Style.Render(fmt.Sprintf("%q", a)), []byte(a))
	}
	return fmt.Sprintf("[%d] % 2x", len(a), []byte(a))
}

// Pretty is a Bus that prints every exchange to Out.
type Pretty struct {
	Bus wanglib.Bus
	Out io.Writer
}

var _ wanglib.Bus = (*Pretty)(nil)

// New wraps bus.
func New(bus wanglib.Bus, out io.Writer) *Pretty {
	return &Pretty{Bus: bus, Out: out}
}

// Query implements wanglib.Bus.
func (p *Pretty) Query(q string) (string, error) {
	a, err := p.Bus.Query(q)
	if err != nil {
		fmt.Fprintf(p.Out, "%s: error %s\n", CmdStyle.Render(q), err)
		return a, err
	}
	fmt.Fprintf(p.Out, "%s: %s\n", CmdStyle.Render(q), FormatResponse(a))
	return a, nil
}

// Command implements wanglib.Bus.
func (p *Pretty) Command(format string, a ...any) error {
	c := format
	if a != nil {
		c = fmt.Sprintf(format, a...)
	}
	if err := p.Bus.Command("%s", c); err != nil {
		fmt.Fprintf(p.Out, "%s: error %s\n", CmdStyle.Render(c), err)
		return err
	}
	fmt.Fprintf(p.Out, "%s()\n", CmdStyle.Render(c))
	return nil
}
