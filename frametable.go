package fiber

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LiveOffset locates one live slot of a frame. Bit 0 selects the space:
// set means a register-save slot (index into the saved register area),
// clear means a stack slot (word offset from the return address).
type LiveOffset uint32

// RegOffset builds the offset for register-save slot i.
func RegOffset(i int) LiveOffset { return LiveOffset(i<<1 | 1) }

// StackOffset builds the offset for the stack slot i words above the
// return address.
func StackOffset(i int) LiveOffset { return LiveOffset(i << 1) }

// IsReg reports whether the offset addresses a register-save slot.
func (o LiveOffset) IsReg() bool { return o&1 == 1 }

// Index returns the slot index within its space.
func (o LiveOffset) Index() int { return int(o >> 1) }

// FrameDescr describes one call site for the scanner: which slots are
// live at the site, how far the caller's return address is, and whether
// the frame is a boundary returning to external code rather than a real
// call frame.
type FrameDescr struct {
	RetAddr    Value
	FrameWords int
	External   bool
	Live       []LiveOffset
}

// FrameTable maps return addresses to frame descriptors. It is produced
// by the code generator and handed to the runtime as a protobuf wire
// blob; compiled-frame scanning consults it for every frame.
type FrameTable struct {
	order  []*FrameDescr
	byAddr map[Value]*FrameDescr
}

// NewFrameTable builds a table from descriptors.
func NewFrameTable(ds ...*FrameDescr) *FrameTable {
	t := &FrameTable{byAddr: make(map[Value]*FrameDescr)}
	for _, d := range ds {
		t.Add(d)
	}
	return t
}

// Add registers a descriptor, replacing any previous entry for the same
// return address.
func (t *FrameTable) Add(d *FrameDescr) {
	if _, ok := t.byAddr[d.RetAddr]; !ok {
		t.order = append(t.order, d)
	}
	t.byAddr[d.RetAddr] = d
}

// Lookup returns the descriptor for a return address, nil when unknown.
func (t *FrameTable) Lookup(ret Value) *FrameDescr {
	return t.byAddr[ret]
}

// Len returns the number of registered descriptors.
func (t *FrameTable) Len() int { return len(t.byAddr) }

// Wire format: the table is a sequence of descriptor messages in field
// 1; each descriptor carries the return address, frame size and boundary
// flag as varints and the live offsets as one packed varint field.
const (
	fieldDescr = 1

	fieldRetAddr    = 1
	fieldFrameWords = 2
	fieldExternal   = 3
	fieldLive       = 4
)

// AppendWire appends the table's wire encoding to b.
func (t *FrameTable) AppendWire(b []byte) []byte {
	for _, d := range t.order {
		var m []byte
		m = protowire.AppendTag(m, fieldRetAddr, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(d.RetAddr))
		m = protowire.AppendTag(m, fieldFrameWords, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(d.FrameWords))
		if d.External {
			m = protowire.AppendTag(m, fieldExternal, protowire.VarintType)
			m = protowire.AppendVarint(m, 1)
		}
		if len(d.Live) > 0 {
			var pk []byte
			for _, o := range d.Live {
				pk = protowire.AppendVarint(pk, uint64(o))
			}
			m = protowire.AppendTag(m, fieldLive, protowire.BytesType)
			m = protowire.AppendBytes(m, pk)
		}
		b = protowire.AppendTag(b, fieldDescr, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

// ParseFrameTable decodes a table from its wire encoding. Unknown fields
// are skipped so the producer can extend the format.
func ParseFrameTable(b []byte) (*FrameTable, error) {
	t := NewFrameTable()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("fiber: frame table: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldDescr || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame table: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("fiber: frame table: %w", protowire.ParseError(n))
		}
		b = b[n:]
		d, err := parseFrameDescr(msg)
		if err != nil {
			return nil, err
		}
		t.Add(d)
	}
	return t, nil
}

func parseFrameDescr(b []byte) (*FrameDescr, error) {
	d := &FrameDescr{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldRetAddr && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
			}
			d.RetAddr = Value(v)
			b = b[n:]
		case num == fieldFrameWords && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
			}
			d.FrameWords = int(v)
			b = b[n:]
		case num == fieldExternal && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
			}
			d.External = v != 0
			b = b[n:]
		case num == fieldLive && typ == protowire.BytesType:
			pk, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
			}
			b = b[n:]
			for len(pk) > 0 {
				v, n := protowire.ConsumeVarint(pk)
				if n < 0 {
					return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
				}
				d.Live = append(d.Live, LiveOffset(v))
				pk = pk[n:]
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("fiber: frame descriptor: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return d, nil
}
