package xport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

const recordLen = 80

var (
	// ErrNotXPORT is returned when the input does not start with a library header.
	ErrNotXPORT = errors.New("xport: not a SAS transport file")

	// ErrMalformed is returned for structurally invalid files.
	ErrMalformed = errors.New("xport: malformed file")
)

var (
	libraryHeader = []byte("HEADER RECORD*******LIBRARY HEADER RECORD!!!!!!!")
	memberHeader  = []byte("HEADER RECORD*******MEMBER  HEADER RECORD!!!!!!!")
	dscrptrHeader = []byte("HEADER RECORD*******DSCRPTR HEADER RECORD!!!!!!!")
	namestrHeader = []byte("HEADER RECORD*******NAMESTR HEADER RECORD!!!!!!!")
	obsHeader     = []byte("HEADER RECORD*******OBS     HEADER RECORD!!!!!!!")
)

// Variable describes one column of a dataset.
type Variable struct {
	Name     string
	Label    string
	Numeric  bool
	Length   int
	Position int
}

// Reader decodes the observations of the first member of an XPORT library.
type Reader struct {
	br      *bufio.Reader
	dataset string
	vars    []Variable
	rowLen  int
	off     int64
	row     []byte
	done    bool
}

// NewReader reads the headers from r and positions the reader at the first
// observation.
func NewReader(r io.Reader) (*Reader, error) {
	xr := &Reader{br: bufio.NewReader(r)}
	if err := xr.readHeaders(); err != nil {
		return nil, err
	}
	return xr, nil
}

// Dataset returns the member name.
func (r *Reader) Dataset() string { return r.dataset }

// Variables returns the variable descriptors in file order.
func (r *Reader) Variables() []Variable { return r.vars }

// Columns returns the variable names in file order.
func (r *Reader) Columns() []string {
	cols := make([]string, len(r.vars))
	for i, v := range r.vars {
		cols[i] = v.Name
	}
	return cols
}

// Read returns the next observation formatted as strings. Missing values
// are returned as empty strings. Read returns io.EOF after the last row.
func (r *Reader) Read() ([]string, error) {
	if r.done {
		return nil, io.EOF
	}

	end, err := r.atEnd()
	if err != nil {
		return nil, err
	}
	if end {
		r.done = true
		return nil, io.EOF
	}

	if _, err := io.ReadFull(r.br, r.row); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated observation", ErrMalformed)
		}
		return nil, err
	}
	r.off += int64(r.rowLen)

	out := make([]string, len(r.vars))
	for i, v := range r.vars {
		field := r.row[v.Position : v.Position+v.Length]
		if v.Numeric {
			out[i] = formatNumber(field)
		} else {
			out[i] = string(bytes.TrimRight(field, " \x00"))
		}
	}
	return out, nil
}

// atEnd reports whether the observation section is exhausted. The section
// is blank-padded to a record boundary and followed by EOF or another member.
func (r *Reader) atEnd() (bool, error) {
	pad := int((recordLen - r.off%recordLen) % recordLen)

	buf, err := r.br.Peek(pad + len(memberHeader))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return false, err
	}

	if len(buf) < pad {
		return allBlank(buf), nil
	}
	if !allBlank(buf[:pad]) {
		return false, nil
	}

	rest := buf[pad:]
	if len(rest) == 0 {
		return true, nil
	}
	return bytes.Equal(rest, memberHeader), nil
}

func (r *Reader) readHeaders() error {
	rec := make([]byte, recordLen)

	if err := r.record(rec); err != nil {
		if errors.Is(err, ErrMalformed) {
			return ErrNotXPORT
		}
		return err
	}
	if !bytes.HasPrefix(rec, libraryHeader) {
		return ErrNotXPORT
	}

	// Real and modified library header records.
	for range 2 {
		if err := r.record(rec); err != nil {
			return err
		}
	}

	if err := r.expect(rec, memberHeader, "member header"); err != nil {
		return err
	}
	namestrLen, err := parseInt(rec[74:78])
	if err != nil || (namestrLen != 140 && namestrLen != 136) {
		return fmt.Errorf("%w: namestr length %q", ErrMalformed, rec[74:78])
	}

	if err := r.expect(rec, dscrptrHeader, "descriptor header"); err != nil {
		return err
	}

	if err := r.record(rec); err != nil {
		return err
	}
	r.dataset = string(bytes.TrimRight(rec[8:16], " "))

	// Modified date and dataset label.
	if err := r.record(rec); err != nil {
		return err
	}

	if err := r.expect(rec, namestrHeader, "namestr header"); err != nil {
		return err
	}
	nvars, err := parseInt(rec[54:58])
	if err != nil || nvars <= 0 {
		return fmt.Errorf("%w: variable count %q", ErrMalformed, rec[54:58])
	}

	size := nvars * namestrLen
	if rem := size % recordLen; rem != 0 {
		size += recordLen - rem
	}
	namestrs := make([]byte, size)
	if _, err := io.ReadFull(r.br, namestrs); err != nil {
		return fmt.Errorf("%w: reading namestrs: %v", ErrMalformed, err)
	}

	r.vars = make([]Variable, nvars)
	for i := range nvars {
		v, err := parseNamestr(namestrs[i*namestrLen : (i+1)*namestrLen])
		if err != nil {
			return err
		}
		r.vars[i] = v
		if end := v.Position + v.Length; end > r.rowLen {
			r.rowLen = end
		}
	}

	if err := r.expect(rec, obsHeader, "observation header"); err != nil {
		return err
	}

	r.row = make([]byte, r.rowLen)
	return nil
}

func (r *Reader) record(rec []byte) error {
	if _, err := io.ReadFull(r.br, rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: unexpected end of header", ErrMalformed)
		}
		return err
	}
	return nil
}

func (r *Reader) expect(rec, prefix []byte, what string) error {
	if err := r.record(rec); err != nil {
		return err
	}
	if !bytes.HasPrefix(rec, prefix) {
		return fmt.Errorf("%w: expected %s", ErrMalformed, what)
	}
	return nil
}

func parseNamestr(b []byte) (Variable, error) {
	ntype := binary.BigEndian.Uint16(b[0:2])
	v := Variable{
		Numeric:  ntype == 1,
		Length:   int(binary.BigEndian.Uint16(b[4:6])),
		Name:     string(bytes.TrimRight(b[8:16], " \x00")),
		Label:    string(bytes.TrimRight(b[16:56], " \x00")),
		Position: int(binary.BigEndian.Uint32(b[84:88])),
	}

	switch {
	case ntype != 1 && ntype != 2:
		return v, fmt.Errorf("%w: variable %q has type %d", ErrMalformed, v.Name, ntype)
	case v.Length <= 0:
		return v, fmt.Errorf("%w: variable %q has length %d", ErrMalformed, v.Name, v.Length)
	case v.Numeric && (v.Length < 2 || v.Length > 8):
		return v, fmt.Errorf("%w: numeric variable %q has length %d", ErrMalformed, v.Name, v.Length)
	}
	return v, nil
}

func parseInt(b []byte) (int, error) {
	return strconv.Atoi(string(bytes.TrimSpace(b)))
}

func allBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' {
			return false
		}
	}
	return true
}

func formatNumber(b []byte) string {
	if isMissing(b) {
		return ""
	}
	v := ibmToFloat(b)
	if v != 0 && math.Abs(v) < 1e-6 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// isMissing reports whether b holds a SAS missing value: '.', '_' or a
// letter followed by zero bytes.
func isMissing(b []byte) bool {
	c := b[0]
	if c != '.' && c != '_' && (c < 'A' || c > 'Z') {
		return false
	}
	for _, x := range b[1:] {
		if x != 0 {
			return false
		}
	}
	return true
}

// ibmToFloat converts a truncated IBM hexadecimal float (2 to 8 bytes,
// big-endian) to float64.
func ibmToFloat(b []byte) float64 {
	var buf [8]byte
	copy(buf[:], b)
	u := binary.BigEndian.Uint64(buf[:])

	mant := u & 0x00ffffffffffffff
	if mant == 0 {
		return 0
	}
	exp := int((u>>56)&0x7f) - 64
	v := math.Ldexp(float64(mant), 4*exp-56)
	if u>>63 == 1 {
		v = -v
	}
	return v
}
