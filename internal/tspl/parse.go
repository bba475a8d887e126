package tspl

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a stream cannot be parsed
var ErrMalformed = errors.New("malformed TSPL stream")

// maxBitmapHeader bounds the search for the fifth comma of a BITMAP header
const maxBitmapHeader = 64

// Command is one parsed TSPL command
type Command struct {
	Name   string  // upper-case command word, e.g. SIZE
	Params string  // text after the command word, empty for BITMAP
	Bitmap *Bitmap // set for BITMAP only
}

// Bitmap is the decoded header and raw payload of a BITMAP command
type Bitmap struct {
	X          int
	Y          int
	WidthBytes int
	Height     int
	Mode       int
	Data       []byte
}

// Parse splits a stream into commands. BITMAP payloads are consumed by
// counting widthBytes*height bytes, since they may contain CR and LF.
func Parse(stream []byte) ([]Command, error) {
	var cmds []Command

	pos := 0
	for pos < len(stream) {
		if c := stream[pos]; c == '\r' || c == '\n' || c == ' ' {
			pos++
			continue
		}

		if bytes.HasPrefix(stream[pos:], []byte("BITMAP")) {
			bm, n, err := parseBitmap(stream[pos:])
			if err != nil {
				return nil, fmt.Errorf("at byte %d: %w", pos, err)
			}
			cmds = append(cmds, Command{Name: "BITMAP", Bitmap: bm})
			pos += n
			continue
		}

		line := stream[pos:]
		if end := bytes.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
			pos += end + 1
		} else {
			pos = len(stream)
		}
		line = bytes.TrimRight(line, "\r")

		name, params := splitCommand(string(line))
		cmds = append(cmds, Command{Name: name, Params: params})
	}

	return cmds, nil
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	name, params, _ := strings.Cut(line, " ")
	return strings.ToUpper(name), strings.TrimSpace(params)
}

// parseBitmap decodes "BITMAP x,y,wb,h,mode," plus payload and returns the
// number of bytes consumed including the trailing line terminator
func parseBitmap(b []byte) (*Bitmap, int, error) {
	headerEnd := -1
	commas := 0
	for i := 0; i < len(b) && i < maxBitmapHeader; i++ {
		if b[i] == '\n' {
			break
		}
		if b[i] == ',' {
			commas++
			if commas == 5 {
				headerEnd = i + 1
				break
			}
		}
	}
	if headerEnd < 0 {
		return nil, 0, fmt.Errorf("%w: BITMAP header without five fields", ErrMalformed)
	}

	fields := strings.Split(strings.TrimSpace(string(b[len("BITMAP"):headerEnd-1])), ",")
	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: BITMAP field %d: %v", ErrMalformed, i, err)
		}
		values[i] = v
	}

	bm := &Bitmap{X: values[0], Y: values[1], WidthBytes: values[2], Height: values[3], Mode: values[4]}
	if bm.WidthBytes <= 0 || bm.Height <= 0 {
		return nil, 0, fmt.Errorf("%w: BITMAP size %dx%d", ErrMalformed, bm.WidthBytes, bm.Height)
	}

	size := bm.WidthBytes * bm.Height
	if len(b) < headerEnd+size {
		return nil, 0, fmt.Errorf("%w: BITMAP payload truncated, need %d bytes, have %d",
			ErrMalformed, size, len(b)-headerEnd)
	}
	bm.Data = b[headerEnd : headerEnd+size]

	n := headerEnd + size
	if bytes.HasPrefix(b[n:], []byte(CRLF)) {
		n += len(CRLF)
	} else if n < len(b) && b[n] == '\n' {
		n++
	}

	return bm, n, nil
}

// ParseSize reads "w mm, h mm" (or dots when the unit is omitted)
func ParseSize(params string) (w, h float64, mm bool, err error) {
	parts := strings.Split(params, ",")
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("%w: SIZE %q", ErrMalformed, params)
	}

	mm = strings.Contains(params, "mm")
	values := make([]float64, 2)
	for i, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "mm"))
		values[i], err = strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, 0, false, fmt.Errorf("%w: SIZE %q", ErrMalformed, params)
		}
	}

	return values[0], values[1], mm, nil
}

// BarcodeParams are the decoded fields of a BARCODE command
type BarcodeParams struct {
	X             int
	Y             int
	Type          string
	Height        int
	HumanReadable bool
	Rotation      int
	Narrow        int
	Wide          int
	Data          string
}

// ParseBarcode reads x,y,"type",height,hr,rotation,narrow,wide,"data"
func ParseBarcode(params string) (*BarcodeParams, error) {
	fields, err := splitQuoted(params)
	if err != nil {
		return nil, err
	}
	if len(fields) != 9 {
		return nil, fmt.Errorf("%w: BARCODE expects 9 fields, got %d", ErrMalformed, len(fields))
	}

	ints := make([]int, 0, 7)
	for _, i := range []int{0, 1, 3, 4, 5, 6, 7} {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: BARCODE field %d: %v", ErrMalformed, i, err)
		}
		ints = append(ints, v)
	}

	return &BarcodeParams{
		X:             ints[0],
		Y:             ints[1],
		Type:          fields[2],
		Height:        ints[2],
		HumanReadable: ints[3] != 0,
		Rotation:      ints[4],
		Narrow:        ints[5],
		Wide:          ints[6],
		Data:          unescapeString(fields[8]),
	}, nil
}

// ParseInts reads a comma separated list of integers, as used by BOX and BAR
func ParseInts(params string, n int) ([]int, error) {
	parts := strings.Split(params, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: expected %d fields in %q", ErrMalformed, n, params)
	}
	values := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: field %d of %q", ErrMalformed, i, params)
		}
		values[i] = v
	}
	return values, nil
}

// splitQuoted splits on commas outside double quotes and strips the quotes
func splitQuoted(s string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && quoted && strings.HasPrefix(s[i:], `\["]`):
			current.WriteString(`\["]`)
			i += len(`\["]`) - 1
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated string in %q", ErrMalformed, s)
	}
	fields = append(fields, strings.TrimSpace(current.String()))
	return fields, nil
}
