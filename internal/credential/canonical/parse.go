package canonical

import (
	"bytes"
	"math"
	"strconv"

	"sumbandila/internal/credential/models"
)

// Parse decodes a canonical/1 object back into a record. Input that decodes
// but is not in canonical form (unsorted keys, alternate number spellings,
// trailing bytes) is rejected, so Parse(b) succeeds only when
// Canonicalize(Parse(b)) == b.
//
// Integers decode as int64 (uint64 above math.MaxInt64), floats as float64,
// nested objects as map[string]any and lists as []any.
func Parse(form models.CanonicalForm) (models.Record, error) {
	p := &parser{buf: form}
	if p.peek() != 'd' {
		return nil, invalidRecord("canonical form must encode an object")
	}
	obj, err := p.object(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.buf) {
		return nil, invalidRecord("trailing bytes after canonical form")
	}
	record := models.Record(obj)

	reencoded, err := Canonicalize(record)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reencoded, form) {
		return nil, invalidRecord("input is not in canonical form")
	}
	return record, nil
}

type parser struct {
	buf []byte
	pos int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.buf) {
		return 0
	}
	return p.buf[p.pos]
}

func (p *parser) next() (byte, error) {
	if p.pos >= len(p.buf) {
		return 0, invalidRecord("unexpected end of canonical form")
	}
	c := p.buf[p.pos]
	p.pos++
	return c, nil
}

func (p *parser) expect(c byte) error {
	got, err := p.next()
	if err != nil {
		return err
	}
	if got != c {
		return invalidRecord("unexpected byte in canonical form")
	}
	return nil
}

// until returns the bytes up to (not including) the terminator and consumes it.
func (p *parser) until(term byte) ([]byte, error) {
	i := bytes.IndexByte(p.buf[p.pos:], term)
	if i < 0 {
		return nil, invalidRecord("unterminated token in canonical form")
	}
	tok := p.buf[p.pos : p.pos+i]
	p.pos += i + 1
	return tok, nil
}

// count reads a non-negative length prefix bounded by the remaining input,
// which keeps hostile counts from driving large allocations.
func (p *parser) count() (int, error) {
	tok, err := p.until(':')
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(tok))
	if err != nil || n < 0 || n > len(p.buf)-p.pos {
		return 0, invalidRecord("invalid length prefix in canonical form")
	}
	return n, nil
}

func (p *parser) value(depth int) (any, error) {
	switch p.peek() {
	case 'd':
		return p.object(depth + 1)
	case 'l':
		return p.list(depth + 1)
	case 's':
		return p.str()
	case 'i':
		return p.integer()
	case 'f':
		return p.float()
	case 'T':
		p.pos++
		return true, nil
	case 'F':
		p.pos++
		return false, nil
	case 'n':
		p.pos++
		return nil, nil
	default:
		return nil, invalidRecord("unknown value tag in canonical form")
	}
}

func (p *parser) object(depth int) (map[string]any, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	if err := p.expect('d'); err != nil {
		return nil, err
	}
	n, err := p.count()
	if err != nil {
		return nil, err
	}
	obj := make(map[string]any, n)
	for range n {
		if p.peek() != 's' {
			return nil, invalidRecord("object key must be a string")
		}
		key, err := p.str()
		if err != nil {
			return nil, err
		}
		if _, dup := obj[key]; dup {
			return nil, invalidRecord("duplicate key in canonical form")
		}
		v, err := p.value(depth)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if err := p.expect('e'); err != nil {
		return nil, err
	}
	return obj, nil
}

func (p *parser) list(depth int) ([]any, error) {
	if depth > MaxDepth {
		return nil, invalidRecord("record nesting too deep")
	}
	if err := p.expect('l'); err != nil {
		return nil, err
	}
	n, err := p.count()
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, n)
	for range n {
		v, err := p.value(depth)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := p.expect('e'); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) str() (string, error) {
	if err := p.expect('s'); err != nil {
		return "", err
	}
	n, err := p.count()
	if err != nil {
		return "", err
	}
	s := string(p.buf[p.pos : p.pos+n])
	p.pos += n
	return s, nil
}

func (p *parser) integer() (any, error) {
	if err := p.expect('i'); err != nil {
		return nil, err
	}
	tok, err := p.until(';')
	if err != nil {
		return nil, err
	}
	if i, err := strconv.ParseInt(string(tok), 10, 64); err == nil {
		return i, nil
	}
	u, err := strconv.ParseUint(string(tok), 10, 64)
	if err != nil {
		return nil, invalidRecord("invalid integer in canonical form")
	}
	return u, nil
}

func (p *parser) float() (any, error) {
	if err := p.expect('f'); err != nil {
		return nil, err
	}
	tok, err := p.until(';')
	if err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(string(tok), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalidRecord("invalid float in canonical form")
	}
	return f, nil
}
