package cmdlog

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoBus struct {
	sent []string
	resp map[string]string
}

func (b *echoBus) Command(format string, a ...any) error {
	c := fmt.Sprintf(format, a...)
	if c == "BAD" {
		return errors.New("refused")
	}
	b.sent = append(b.sent, c)
	return nil
}

func (b *echoBus) Query(q string) (string, error) {
	r, ok := b.resp[q]
	if !ok {
		return "", errors.New("timeout")
	}
	return r, nil
}

func TestFormatResponse(t *testing.T) {
	assert.Contains(t, FormatResponse(""), "<no response>")
	assert.Contains(t, FormatResponse("\xff"), "<no response>")
	assert.Contains(t, FormatResponse("\xff\n"), "<no response>")

	s := FormatResponse("SR830\r\n")
	assert.True(t, strings.HasPrefix(s, "[6] "), s)
	assert.Contains(t, s, `"SR830\r"`)

	s = FormatResponse("\x01\x02")
	assert.Contains(t, s, "(01 02)")

	long := strings.Repeat("\x00\x80", 20)
	s = FormatResponse(long)
	assert.True(t, strings.HasPrefix(s, "[40] 00 80"), s)
	assert.NotContains(t, s, `"`)
}

func TestPretty(t *testing.T) {
	var out bytes.Buffer
	bus := &echoBus{resp: map[string]string{"*IDN?": "AG8648"}}
	p := New(bus, &out)

	a, err := p.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "AG8648", a)

	_, err = p.Query("NOPE?")
	assert.Error(t, err)

	require.NoError(t, p.Command("FREQ:CW %.5f MHZ", 10.0))
	assert.Equal(t, []string{"FREQ:CW 10.00000 MHZ"}, bus.sent)
	assert.Error(t, p.Command("BAD"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `*IDN?`)
	assert.Contains(t, lines[0], `"AG8648"`)
	assert.Contains(t, lines[1], "error timeout")
	assert.Contains(t, lines[2], "FREQ:CW 10.00000 MHZ()")
	assert.Contains(t, lines[3], "error refused")
}
