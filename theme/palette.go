package theme

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

//go:embed palettes/plasma.gpl
var plasmaGPL string

type RGB [3]uint8

type Palette struct {
	Name   string
	Colors []RGB
}

// Plasma returns the built-in palette
func Plasma() *Palette {
	p, err := ParseGPL(strings.NewReader(plasmaGPL))
	if err != nil {
		panic("built-in palette: " + err.Error())
	}
	return p
}

// LoadGPL reads a GIMP palette file
func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open palette")
	}
	defer f.Close()

	p, err := ParseGPL(f)
	if err != nil {
		return nil, errors.Wrapf(err, "palette %s", path)
	}
	return p, nil
}

// ParseGPL reads GIMP palette text. Only the first three fields of each
// color line are used.
func ParseGPL(r io.Reader) (*Palette, error) {
	p := &Palette{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "Name:") {
			p.Name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
			continue
		}

		// Skip headers and comments
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "GIMP") || strings.HasPrefix(line, "Columns") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		var c RGB
		ok := true
		for i := 0; i < 3; i++ {
			v, err := strconv.Atoi(fields[i])
			if err != nil || v < 0 || v > 255 {
				ok = false
				break
			}
			c[i] = uint8(v)
		}
		if ok {
			p.Colors = append(p.Colors, c)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read palette")
	}
	if len(p.Colors) == 0 {
		return nil, errors.New("no colors found")
	}
	return p, nil
}

// Lookup returns interpolated color for normalized value 0-1
func (p *Palette) Lookup(norm float64) RGB {
	if norm <= 0 {
		return p.Colors[0]
	}
	if norm >= 1 {
		return p.Colors[len(p.Colors)-1]
	}

	pos := norm * float64(len(p.Colors)-1)
	i := int(pos)
	frac := pos - float64(i)

	c0 := p.Colors[i]
	c1 := p.Colors[i+1]

	return RGB{
		lerp(c0[0], c1[0], frac),
		lerp(c0[1], c1[1], frac),
		lerp(c0[2], c1[2], frac),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a)*(1-t) + float64(b)*t)
}
