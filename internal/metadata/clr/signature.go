package clr

import (
	"errors"
	"fmt"
	"strings"
)

// Element types (Partition II, section 23.1.16)
const (
	elemPtr         = 0x0F
	elemByRef       = 0x10
	elemValueType   = 0x11
	elemClass       = 0x12
	elemVar         = 0x13
	elemArray       = 0x14
	elemGenericInst = 0x15
	elemFnPtr       = 0x1B
	elemSZArray     = 0x1D
	elemMVar        = 0x1E
	elemCModReqd    = 0x1F
	elemCModOpt     = 0x20
	elemSentinel    = 0x41
	elemPinned      = 0x45

	sigGeneric = 0x10

	maxSigDepth = 32
)

var elementNames = map[byte]string{
	0x01: "Void",
	0x02: "Boolean",
	0x03: "Char",
	0x04: "SByte",
	0x05: "Byte",
	0x06: "Int16",
	0x07: "UInt16",
	0x08: "Int32",
	0x09: "UInt32",
	0x0A: "Int64",
	0x0B: "UInt64",
	0x0C: "Single",
	0x0D: "Double",
	0x0E: "String",
	0x16: "TypedReference",
	0x18: "IntPtr",
	0x19: "UIntPtr",
	0x1C: "Object",
}

type genericKey struct {
	owner  tableID
	row    uint32
	number uint32
}

// sigReader walks one signature blob. Names come back undecorated except
// for array and pointer suffixes.
type sigReader struct {
	img       *image
	b         []byte
	pos       int
	depth     int
	ownerType uint32
	method    uint32
}

func (r *sigReader) next() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, errors.New("signature truncated")
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *sigReader) compressed() (uint32, error) {
	if r.pos > len(r.b) {
		return 0, errors.New("signature truncated")
	}
	v, n, err := decodeCompressed(r.b[r.pos:])
	r.pos += n
	return v, err
}

// firstParameter decodes a MethodDefSig and returns the name of the first
// parameter's type, or "" for a parameterless method.
func (r *sigReader) firstParameter() (string, error) {
	cc, err := r.next()
	if err != nil {
		return "", err
	}
	if cc&sigGeneric != 0 {
		if _, err := r.compressed(); err != nil {
			return "", err
		}
	}
	count, err := r.compressed()
	if err != nil || count == 0 {
		return "", err
	}
	if _, err := r.typeName(); err != nil {
		return "", fmt.Errorf("return type: %w", err)
	}
	return r.typeName()
}

func (r *sigReader) typeName() (string, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxSigDepth {
		return "", errors.New("signature nested too deeply")
	}

	for {
		b, err := r.next()
		if err != nil {
			return "", err
		}
		switch b {
		case elemCModReqd, elemCModOpt:
			if _, err := r.compressed(); err != nil {
				return "", err
			}
			continue
		case elemByRef, elemPinned, elemSentinel:
			continue
		}

		if name, ok := elementNames[b]; ok {
			return name, nil
		}

		switch b {
		case elemPtr:
			inner, err := r.typeName()
			return inner + "*", err
		case elemValueType, elemClass:
			token, err := r.compressed()
			if err != nil {
				return "", err
			}
			return r.img.typeDefOrRefName(token, r.depth)
		case elemVar:
			n, err := r.compressed()
			if err != nil {
				return "", err
			}
			return r.img.genericParamName(genericKey{tTypeDef, r.ownerType, n}), nil
		case elemMVar:
			n, err := r.compressed()
			if err != nil {
				return "", err
			}
			return r.img.genericParamName(genericKey{tMethodDef, r.method, n}), nil
		case elemSZArray:
			elem, err := r.typeName()
			return elem + "[]", err
		case elemArray:
			elem, err := r.typeName()
			if err != nil {
				return "", err
			}
			rank, err := r.skipArrayShape()
			if err != nil {
				return "", err
			}
			return elem + "[" + strings.Repeat(",", int(max(rank, 1))-1) + "]", nil
		case elemGenericInst:
			if _, err := r.next(); err != nil {
				return "", err
			}
			token, err := r.compressed()
			if err != nil {
				return "", err
			}
			name, err := r.img.typeDefOrRefName(token, r.depth)
			if err != nil {
				return "", err
			}
			argc, err := r.compressed()
			if err != nil {
				return "", err
			}
			for i := uint32(0); i < argc; i++ {
				if _, err := r.typeName(); err != nil {
					return "", err
				}
			}
			return name, nil
		case elemFnPtr:
			if err := r.skipMethodSig(); err != nil {
				return "", err
			}
			return "IntPtr", nil
		default:
			return "", fmt.Errorf("unsupported element type %#x", b)
		}
	}
}

// skipArrayShape consumes an ArrayShape and returns its rank
func (r *sigReader) skipArrayShape() (uint32, error) {
	rank, err := r.compressed()
	if err != nil {
		return 0, err
	}
	// sizes, then lower bounds
	for range 2 {
		n, err := r.compressed()
		if err != nil {
			return 0, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.compressed(); err != nil {
				return 0, err
			}
		}
	}
	return rank, nil
}

func (r *sigReader) skipMethodSig() error {
	cc, err := r.next()
	if err != nil {
		return err
	}
	if cc&sigGeneric != 0 {
		if _, err := r.compressed(); err != nil {
			return err
		}
	}
	count, err := r.compressed()
	if err != nil {
		return err
	}
	for i := uint32(0); i <= count; i++ {
		if _, err := r.typeName(); err != nil {
			return err
		}
	}
	return nil
}

// typeDefOrRefName resolves a TypeDefOrRefOrSpecEncoded token to a type name
func (img *image) typeDefOrRefName(token uint32, depth int) (string, error) {
	t, row := typeDefOrRef.decode(token)
	switch t {
	case tTypeDef:
		return img.str(img.tables.cell(tTypeDef, row, typeDefName)), nil
	case tTypeRef:
		return img.str(img.tables.cell(tTypeRef, row, typeRefName)), nil
	case tTypeSpec:
		sig, err := img.blob(img.tables.cell(tTypeSpec, row, typeSpecSignature))
		if err != nil {
			return "", err
		}
		r := &sigReader{img: img, b: sig, depth: depth}
		return r.typeName()
	}
	return "", fmt.Errorf("bad TypeDefOrRef token %#x", token)
}

func (img *image) genericParamName(k genericKey) string {
	ts := img.tables
	for row := uint32(1); row <= ts.rowCount(tGenericParam); row++ {
		if ts.cell(tGenericParam, row, genericParamNumber) != k.number {
			continue
		}
		owner, ownerRow := typeOrMethodDef.decode(ts.cell(tGenericParam, row, genericParamOwner))
		if owner == k.owner && ownerRow == k.row {
			return img.str(ts.cell(tGenericParam, row, genericParamName))
		}
	}
	return fmt.Sprintf("T%d", k.number)
}
