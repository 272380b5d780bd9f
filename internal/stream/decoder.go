package stream

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// FrameDecoder convierte chunks arbitrarios de bytes en lineas completas.
// El ultimo fragmento sin terminador queda en carry hasta el proximo Feed o Flush.
//
// El corte se hace sobre bytes: '\n' nunca aparece dentro de una secuencia UTF-8
// multibyte, asi que un caracter partido entre dos chunks se reensambla en carry
// antes de decodificarse.
type FrameDecoder struct {
	carry []byte
}

func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed agrega un chunk y devuelve las lineas completas no vacias que produjo.
func (d *FrameDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(d.carry, '\n')
		if idx == -1 {
			break
		}
		if line, ok := decodeLine(d.carry[:idx]); ok {
			lines = append(lines, line)
		}
		d.carry = d.carry[idx+1:]
	}

	// Compacta para no retener el buffer original de chunks ya consumidos.
	if len(d.carry) == 0 {
		d.carry = nil
	} else {
		d.carry = append([]byte(nil), d.carry...)
	}
	return lines
}

// Flush entrega el carry pendiente como linea final (fin de stream) y lo limpia.
func (d *FrameDecoder) Flush() []string {
	rest := d.carry
	d.carry = nil
	if line, ok := decodeLine(rest); ok {
		return []string{line}
	}
	return nil
}

// Pending devuelve cuantos bytes quedan sin terminador.
func (d *FrameDecoder) Pending() int {
	return len(d.carry)
}

// DecodeLines parte un cuerpo completo en lineas, igual que un Feed seguido de Flush.
func DecodeLines(body []byte) []string {
	d := NewFrameDecoder()
	lines := d.Feed(body)
	return append(lines, d.Flush()...)
}

func decodeLine(raw []byte) (string, bool) {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if len(raw) == 0 {
		return "", false
	}
	// El decoder UTF-8 reemplaza secuencias invalidas por U+FFFD.
	text, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		text = bytes.ToValidUTF8(raw, []byte("\uFFFD"))
	}
	line := string(text)
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}
