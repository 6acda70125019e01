package program

import (
	"bytes"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/wire"
)

// Frame tags. Operators occupy tagOperator+kind.
const (
	tagQueryID        byte = 0x01
	tagTable          byte = 0x02
	tagProjectColumn  byte = 0x03
	tagWildcard       byte = 0x04
	tagProjectionKind byte = 0x05
	tagLiteral        byte = 0x10
	tagColumnRef      byte = 0x11
	tagOperator       byte = 0x20
	tagSelector       byte = 0x40
	tagMasked         byte = 0x41
	tagResultColumn   byte = 0x42
)

// WriteTo serialises the program as a wire stream.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	cw := &wire.CountingWriter{W: w}
	fw, err := wire.NewWriter(cw, wire.KindProgram)
	if err != nil {
		return cw.N, err
	}

	id, err := uuid.Parse(p.ID)
	if err != nil {
		return cw.N, qerr.Malformed("query id %q: %v", p.ID, err)
	}
	frames := []wire.Frame{
		{Tag: tagQueryID, Payload: id[:]},
		{Tag: tagTable, Payload: []byte(p.Table)},
		{Tag: tagProjectionKind, Payload: []byte{byte(p.Kind)}},
	}
	if p.Wildcard {
		frames = append(frames, wire.Frame{Tag: tagWildcard})
	}
	for _, c := range p.Columns {
		frames = append(frames, wire.Frame{Tag: tagProjectColumn, Payload: typedName(c.Type, c.Name)})
	}
	for _, t := range p.Predicate {
		f, err := tokenFrame(t)
		if err != nil {
			return cw.N, err
		}
		frames = append(frames, f)
	}

	for _, f := range frames {
		if err := fw.Write(f.Tag, f.Payload); err != nil {
			return cw.N, err
		}
	}
	err = fw.Flush()
	return cw.N, err
}

// MarshalBinary returns the wire encoding of the program.
func (p *Program) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func tokenFrame(t Token) (wire.Frame, error) {
	switch t.Kind {
	case TokenLiteral:
		if t.Ciphertext == nil {
			return wire.Frame{}, qerr.Malformed("literal token has no ciphertext")
		}
		ct, err := fhe.MarshalCiphertext(t.Ciphertext)
		if err != nil {
			return wire.Frame{}, err
		}
		return wire.Frame{Tag: tagLiteral, Payload: append(typeBytes(t.Type), ct...)}, nil
	case TokenColumn:
		return wire.Frame{Tag: tagColumnRef, Payload: typedName(t.Type, t.Column)}, nil
	case TokenOperator:
		if !t.Op.Valid() {
			return wire.Frame{}, qerr.Malformed("invalid operator %s", t.Op)
		}
		return wire.Frame{Tag: tagOperator + byte(t.Op)}, nil
	}
	return wire.Frame{}, qerr.Malformed("invalid token kind %d", t.Kind)
}

// ReadProgram parses a program stream. Any framing or content error is
// reported as MALFORMED_PROGRAM.
func ReadProgram(r io.Reader) (*Program, error) {
	fr, err := wire.NewReader(r, wire.KindProgram)
	if err != nil {
		return nil, qerr.Malformed("program stream: %v", err)
	}

	p := &Program{}
	var haveID, haveTable bool
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qerr.Malformed("program stream: %v", err)
		}

		switch {
		case f.Tag == tagQueryID:
			id, err := uuid.FromBytes(f.Payload)
			if err != nil {
				return nil, qerr.Malformed("query id: %v", err)
			}
			p.ID, haveID = id.String(), true
		case f.Tag == tagTable:
			p.Table, haveTable = string(f.Payload), true
		case f.Tag == tagProjectionKind:
			if len(f.Payload) != 1 || ProjectionKind(f.Payload[0]) > ProjectScalar {
				return nil, qerr.Malformed("invalid projection kind")
			}
			p.Kind = ProjectionKind(f.Payload[0])
		case f.Tag == tagWildcard:
			p.Wildcard = true
		case f.Tag == tagProjectColumn:
			t, name, err := parseTypedName(f.Payload)
			if err != nil {
				return nil, err
			}
			p.Columns = append(p.Columns, schema.Column{Name: name, Type: t})
		case f.Tag == tagLiteral:
			t, rest, err := parseType(f.Payload)
			if err != nil {
				return nil, err
			}
			ct, err := fhe.UnmarshalCiphertext(rest)
			if err != nil {
				return nil, qerr.Malformed("literal: %v", err)
			}
			p.Predicate = append(p.Predicate, Literal(ct, t))
		case f.Tag == tagColumnRef:
			t, name, err := parseTypedName(f.Payload)
			if err != nil {
				return nil, err
			}
			p.Predicate = append(p.Predicate, ColumnRef(name, t))
		case f.Tag > tagOperator && f.Tag < tagSelector:
			op := OperatorKind(f.Tag - tagOperator)
			if !op.Valid() {
				return nil, qerr.Malformed("unknown operator tag 0x%02x", f.Tag)
			}
			p.Predicate = append(p.Predicate, Operator(op))
		default:
			return nil, qerr.Malformed("unknown program tag 0x%02x", f.Tag)
		}
	}

	if !haveID || !haveTable {
		return nil, qerr.Malformed("program stream is missing its header")
	}
	return p, nil
}

// UnmarshalProgram parses bytes produced by MarshalBinary.
func UnmarshalProgram(b []byte) (*Program, error) {
	return ReadProgram(bytes.NewReader(b))
}

// WriteTo serialises the result as a wire stream.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	cw := &wire.CountingWriter{W: w}
	fw, err := wire.NewWriter(cw, wire.KindResult)
	if err != nil {
		return cw.N, err
	}

	id, err := uuid.Parse(r.ID)
	if err != nil {
		return cw.N, qerr.Malformed("query id %q: %v", r.ID, err)
	}
	if err := fw.Write(tagQueryID, id[:]); err != nil {
		return cw.N, err
	}
	for _, c := range r.Columns {
		if err := fw.Write(tagResultColumn, typedName(c.Type, c.Name)); err != nil {
			return cw.N, err
		}
	}
	width := r.Width()
	for i, ct := range r.Ciphertexts {
		b, err := fhe.MarshalCiphertext(ct)
		if err != nil {
			return cw.N, err
		}
		tag := tagMasked
		if i%width == 0 {
			tag = tagSelector
		}
		if err := fw.Write(tag, b); err != nil {
			return cw.N, err
		}
	}
	err = fw.Flush()
	return cw.N, err
}

// MarshalBinary returns the wire encoding of the result.
func (r *Result) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadResult parses a result stream. A selector or masked frame out of
// tuple position is MALFORMED_PROGRAM; a short final tuple is left for the
// decoder to report.
func ReadResult(r io.Reader) (*Result, error) {
	fr, err := wire.NewReader(r, wire.KindResult)
	if err != nil {
		return nil, qerr.Malformed("result stream: %v", err)
	}

	res := &Result{}
	var haveID bool
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qerr.Malformed("result stream: %v", err)
		}

		switch f.Tag {
		case tagQueryID:
			id, err := uuid.FromBytes(f.Payload)
			if err != nil {
				return nil, qerr.Malformed("query id: %v", err)
			}
			res.ID, haveID = id.String(), true
		case tagResultColumn:
			if len(res.Ciphertexts) > 0 {
				return nil, qerr.Malformed("result column after ciphertexts")
			}
			t, name, err := parseTypedName(f.Payload)
			if err != nil {
				return nil, err
			}
			res.Columns = append(res.Columns, schema.Column{Name: name, Type: t})
		case tagSelector, tagMasked:
			atStart := len(res.Ciphertexts)%res.Width() == 0
			if atStart != (f.Tag == tagSelector) {
				return nil, qerr.Malformed("ciphertext %d is out of tuple position", len(res.Ciphertexts))
			}
			ct, err := fhe.UnmarshalCiphertext(f.Payload)
			if err != nil {
				return nil, qerr.Malformed("ciphertext %d: %v", len(res.Ciphertexts), err)
			}
			res.Ciphertexts = append(res.Ciphertexts, ct)
		default:
			return nil, qerr.Malformed("unknown result tag 0x%02x", f.Tag)
		}
	}

	if !haveID {
		return nil, qerr.Malformed("result stream is missing its query id")
	}
	return res, nil
}

// UnmarshalResult parses bytes produced by (*Result).MarshalBinary.
func UnmarshalResult(b []byte) (*Result, error) {
	return ReadResult(bytes.NewReader(b))
}

func typeBytes(t schema.ColumnType) []byte {
	b, _ := t.MarshalBinary()
	return b
}

func typedName(t schema.ColumnType, name string) []byte {
	return append(typeBytes(t), name...)
}

func parseType(b []byte) (schema.ColumnType, []byte, error) {
	var t schema.ColumnType
	if len(b) < 2 {
		return t, nil, qerr.Malformed("frame too short for a column type")
	}
	if err := t.UnmarshalBinary(b[:2]); err != nil {
		return t, nil, qerr.Malformed("%v", err)
	}
	return t, b[2:], nil
}

func parseTypedName(b []byte) (schema.ColumnType, string, error) {
	t, rest, err := parseType(b)
	if err != nil {
		return t, "", err
	}
	if len(rest) == 0 {
		return t, "", qerr.Malformed("empty column name")
	}
	return t, string(rest), nil
}
