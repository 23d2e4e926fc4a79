package codec

import "fmt"

// WrapperState is the inflate-side wrapper-parser sub-state machine
// from spec.md §3: HEADER_START, one check/fetch state per optional
// gzip flag, ZLIB_ADLER for the zlib dictionary id, and HEADER_DONE.
// Modeled as a tagged enum (spec.md §9) rather than bare ints passed
// around ad hoc.
type WrapperState int

const (
	WrapperHeaderStart WrapperState = iota
	WrapperGzipFixed                // ID1/ID2/CM/FLG/MTIME/XFL/OS, 10 bytes
	WrapperGzipExtraLen
	WrapperGzipExtraData
	WrapperGzipName
	WrapperGzipComment
	WrapperGzipHCRC
	WrapperZlibFixed // CMF/FLG, 2 bytes
	WrapperZlibAdler
	WrapperHeaderDone
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flgText    = 1 << 0
	flgHCRC    = 1 << 1
	flgExtra   = 1 << 2
	flgName    = 1 << 3
	flgComment = 1 << 4
)

// WrapperParser strips the RFC 1950/1952 wrapper header from an
// incoming byte stream across however many calls it takes to arrive,
// carrying its sub-state in a WrapperState the way the teacher's
// protocol.Transport carries isSynchronized across partial reads.
type WrapperParser struct {
	Format Format
	State  WrapperState
	Header *GzipHeader

	flg byte

	extraRemaining int
	nameBuf        []byte
	commentBuf     []byte

	needDictAdler uint32

	pending []byte // bytes accumulated toward the current fixed-size field
}

// fillFixed accumulates data into p.pending until total bytes are on
// hand, for the handful of wrapper fields that must be read as one
// fixed-size unit (zlib's CMF/FLG and Adler-32, gzip's 10-byte fixed
// header, FEXTRA's length, and the HCRC). It reports how many bytes of
// this call's data it consumed and whether the field is now complete;
// a caller handing bytes in one at a time completes the field over
// several calls instead of losing the bytes already seen.
func (p *WrapperParser) fillFixed(data []byte, total int) (field []byte, consumed int, ready bool) {
	need := total - len(p.pending)
	n := len(data)
	if n > need {
		n = need
	}
	p.pending = append(p.pending, data[:n]...)
	if len(p.pending) < total {
		return nil, n, false
	}
	field = p.pending
	p.pending = nil
	return field, n, true
}

// NewWrapperParser creates a parser for the given format. For
// FormatRaw the parser is a no-op and reports HEADER_DONE immediately.
func NewWrapperParser(format Format, hdr *GzipHeader) *WrapperParser {
	p := &WrapperParser{Format: format, Header: hdr}
	if format == FormatRaw {
		p.State = WrapperHeaderDone
	} else {
		p.State = WrapperHeaderStart
	}
	return p
}

// Done reports whether the wrapper has been fully consumed.
func (p *WrapperParser) Done() bool { return p.State == WrapperHeaderDone }

// NeedDictionary reports whether the zlib header's FDICT bit was set
// and a set_dictionary call matching Adler32() is required before
// inflate can proceed.
func (p *WrapperParser) NeedDictionary() bool {
	return p.Format == FormatZlib && p.needDictAdler != 0
}

// DictAdler32 returns the expected dictionary Adler-32 from a zlib
// FDICT header, valid only when NeedDictionary() is true.
func (p *WrapperParser) DictAdler32() uint32 { return p.needDictAdler }

// Feed consumes as much of data as is needed to make progress on the
// wrapper, returning the number of bytes consumed. It may return 0,
// nil if more bytes are required before the next transition. It
// returns an error for a malformed header (bad zlib check bits,
// unsupported CM, window too large).
func (p *WrapperParser) Feed(data []byte) (consumed int, err error) {
	switch p.Format {
	case FormatRaw:
		return 0, nil
	case FormatZlib:
		return p.feedZlib(data)
	case FormatGzip:
		return p.feedGzip(data)
	default:
		return 0, fmt.Errorf("wrapper: unknown format %d", p.Format)
	}
}

func (p *WrapperParser) feedZlib(data []byte) (int, error) {
	n := 0
	switch p.State {
	case WrapperHeaderStart:
		p.State = WrapperZlibFixed
		return 0, nil

	case WrapperZlibFixed:
		buf, consumed, ready := p.fillFixed(data, 2)
		if !ready {
			return consumed, nil
		}
		cmf, flg := buf[0], buf[1]
		n = consumed
		if (int(cmf)<<8|int(flg))%31 != 0 {
			return n, fmt.Errorf("zlib: header check failed")
		}
		if cmf&0x0f != 8 {
			return n, fmt.Errorf("zlib: unsupported compression method %d", cmf&0x0f)
		}
		if (cmf>>4)&0x0f > 7 {
			return n, fmt.Errorf("zlib: window size bits out of range")
		}
		if flg&0x20 != 0 {
			p.State = WrapperZlibAdler
			return n, nil
		}
		p.State = WrapperHeaderDone
		return n, nil

	case WrapperZlibAdler:
		buf, consumed, ready := p.fillFixed(data, 4)
		if !ready {
			return consumed, nil
		}
		p.needDictAdler = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		p.State = WrapperHeaderDone
		return consumed, nil

	default:
		return 0, nil
	}
}

func (p *WrapperParser) feedGzip(data []byte) (int, error) {
	switch p.State {
	case WrapperHeaderStart:
		p.State = WrapperGzipFixed
		return 0, nil

	case WrapperGzipFixed:
		data, n, ready := p.fillFixed(data, 10)
		if !ready {
			return n, nil
		}
		if data[0] != gzipID1 || data[1] != gzipID2 {
			return n, fmt.Errorf("gzip: bad magic")
		}
		if data[2] != gzipDeflate {
			return n, fmt.Errorf("gzip: unsupported compression method %d", data[2])
		}
		p.flg = data[3]
		if p.Header != nil {
			p.Header.Time = uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
			p.Header.XFlags = data[8]
			p.Header.OS = data[9]
			p.Header.Text = p.flg&flgText != 0
		}
		p.advanceGzipFlags()
		return n, nil

	case WrapperGzipExtraLen:
		data, n, ready := p.fillFixed(data, 2)
		if !ready {
			return n, nil
		}
		p.extraRemaining = int(data[0]) | int(data[1])<<8
		p.State = WrapperGzipExtraData
		if p.extraRemaining == 0 {
			p.flg &^= flgExtra
			p.advanceGzipFlags()
		}
		return n, nil

	case WrapperGzipExtraData:
		n := p.extraRemaining
		if n > len(data) {
			n = len(data)
		}
		if p.Header != nil {
			room := p.Header.ExtraMax - len(p.Header.Extra)
			take := n
			if room >= 0 && take > room {
				take = room
			}
			if take > 0 {
				p.Header.Extra = append(p.Header.Extra, data[:take]...)
			}
		}
		p.extraRemaining -= n
		if p.extraRemaining == 0 {
			p.flg &^= flgExtra
			p.advanceGzipFlags()
		}
		return n, nil

	case WrapperGzipName:
		return p.feedNulTerminated(data, &p.nameBuf, func(s []byte) {
			if p.Header != nil {
				max := p.Header.NameMax
				if max > 0 && len(s) > max {
					s = s[:max]
				}
				p.Header.Name = string(s)
			}
			p.advanceGzipFlags()
		})

	case WrapperGzipComment:
		return p.feedNulTerminated(data, &p.commentBuf, func(s []byte) {
			if p.Header != nil {
				max := p.Header.CommentMax
				if max > 0 && len(s) > max {
					s = s[:max]
				}
				p.Header.Comment = string(s)
			}
			p.advanceGzipFlags()
		})

	case WrapperGzipHCRC:
		_, n, ready := p.fillFixed(data, 2)
		if !ready {
			return n, nil
		}
		if p.Header != nil {
			p.Header.HCRC = true
		}
		p.State = WrapperHeaderDone
		return n, nil

	default:
		return 0, nil
	}
}

func (p *WrapperParser) feedNulTerminated(data []byte, buf *[]byte, onDone func([]byte)) (int, error) {
	for i, b := range data {
		if b == 0 {
			*buf = append(*buf, data[:i]...)
			onDone(*buf)
			return i + 1, nil
		}
	}
	*buf = append(*buf, data...)
	return len(data), nil
}

// advanceGzipFlags walks the FLG bit checklist in RFC 1952 order:
// FEXTRA, FNAME, FCOMMENT, FHCRC, then HEADER_DONE. It clears the
// FNAME, FCOMMENT and FHCRC bits itself as it enters their states;
// FEXTRA is cleared by its caller once the extra field is consumed.
func (p *WrapperParser) advanceGzipFlags() {
	if p.flg&flgExtra != 0 {
		p.State = WrapperGzipExtraLen
		return
	}
	if p.flg&flgName != 0 {
		p.flg &^= flgName
		p.State = WrapperGzipName
		return
	}
	if p.flg&flgComment != 0 {
		p.flg &^= flgComment
		p.State = WrapperGzipComment
		return
	}
	if p.flg&flgHCRC != 0 {
		p.flg &^= flgHCRC
		p.State = WrapperGzipHCRC
		return
	}
	p.State = WrapperHeaderDone
}
