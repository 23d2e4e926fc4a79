package hwzedc

import (
	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/deflate"
	"github.com/hwzedc/hwzedc/status"
	"github.com/hwzedc/hwzedc/swfallback"
)

// DeflateStream is the public deflate-direction facade: deflate_init's
// single streaming object, switching between the hardware deflate
// Engine and the swfallback Deflater at most once, per spec.md §4.6.
type DeflateStream struct {
	cfg   *Config
	accel *Accelerator

	windowBits int
	level      int
	contextID  uint32

	shim shimState
	hw   *deflate.Engine
	sw   *swfallback.Deflater

	dict   []byte
	header *codec.GzipHeader
}

// NewDeflateStream implements deflate_init. accel may be nil only when
// cfg forces software; a hardware-capable config with a nil accel is a
// caller error.
func NewDeflateStream(cfg *Config, accel *Accelerator, level, windowBits int) (*DeflateStream, error) {
	wantHardware := !cfg.ForceSoftware && cfg.HardwareDirection.Deflate
	if wantHardware && accel == nil {
		return nil, status.New(status.StreamError, "deflate_init requested hardware with no Accelerator")
	}
	target := implSoftware
	if wantHardware {
		target = implHardware
	}
	return newDeflateStream(cfg, accel, level, windowBits, target, nil, nil)
}

func newDeflateStream(cfg *Config, accel *Accelerator, level, windowBits int, target impl, dict []byte, header *codec.GzipHeader) (*DeflateStream, error) {
	s := &DeflateStream{
		cfg:        cfg,
		accel:      accel,
		windowBits: windowBits,
		level:      level,
		dict:       dict,
		header:     header,
	}
	s.shim.current = target
	var err error
	if target == implHardware {
		err = s.openHardware()
	} else {
		err = s.openSoftware()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DeflateStream) openHardware() error {
	s.contextID = s.accel.nextContextID()
	hw, err := deflate.New(s.windowBits, s.accel.dispatcher, s.accel.sim, s.contextID)
	if err != nil {
		return err
	}
	if len(s.dict) > 0 {
		if err := hw.SetDictionary(s.dict); err != nil {
			return err
		}
	}
	if s.header != nil {
		if err := hw.SetHeader(s.header); err != nil {
			return err
		}
	}
	s.hw = hw
	return nil
}

func (s *DeflateStream) openSoftware() error {
	sw, err := swfallback.NewDeflater(s.windowBits, s.level)
	if err != nil {
		return err
	}
	if len(s.dict) > 0 {
		if err := sw.SetDictionary(s.dict); err != nil {
			return err
		}
	}
	if s.header != nil {
		if err := sw.SetHeader(s.header); err != nil {
			return err
		}
	}
	s.sw = sw
	return nil
}

func (s *DeflateStream) active() codec.Deflater {
	if s.shim.current == implHardware {
		return s.hw
	}
	return s.sw
}

// SetDictionary implements deflate_set_dictionary.
func (s *DeflateStream) SetDictionary(dict []byte) error {
	s.dict = dict
	return s.active().SetDictionary(dict)
}

// SetHeader implements deflate_set_header.
func (s *DeflateStream) SetHeader(h *codec.GzipHeader) error {
	s.header = h
	return s.active().SetHeader(h)
}

// Deflate implements the deflate(flush) operation. consumed/produced
// report how much of input/output were used, mirroring avail_in/
// avail_out bookkeeping without exposing a raw pointer pair.
func (s *DeflateStream) Deflate(input, output []byte, flush codec.FlushMode) (consumed, produced int, st status.Status, err error) {
	if shouldSwitch, target := s.shim.checkpoint(len(input), s.cfg.InflateSmallInputThreshold); shouldSwitch {
		if err := s.switchTo(target); err != nil {
			return 0, 0, status.StreamError, err
		}
	}

	in := &codec.Cursor{Buf: input}
	out := &codec.Cursor{Buf: output}
	st, err = s.active().Deflate(in, out, flush)
	consumed = len(input) - len(in.Buf)
	produced = len(output) - len(out.Buf)
	if produced > 0 {
		s.shim.producedOutput = true
	}
	return consumed, produced, st, err
}

func (s *DeflateStream) switchTo(target impl) error {
	if target == s.shim.current {
		return nil
	}
	if target == implHardware && (s.accel == nil || s.cfg.ForceSoftware || !s.cfg.HardwareDirection.Deflate) {
		// Hardware is not available to this stream; it stays in software.
		return nil
	}
	if err := s.active().End(); err != nil {
		return err
	}
	s.shim.current = target
	if target == implHardware {
		return s.openHardware()
	}
	return s.openSoftware()
}

// Reset implements deflate_reset.
func (s *DeflateStream) Reset() error {
	s.shim = shimState{current: s.shim.current}
	return s.active().Reset()
}

// Copy implements deflate_copy: builds a new stream sharing this one's
// settings and currently-installed dictionary/header. The accelerator
// context itself is not duplicated byte-for-byte — a DDCB context only
// exists inside the dispatcher/simulator it was opened against, so a
// true mid-stream clone of in-flight accelerator state isn't
// representable here. Copy instead gives the caller a fresh stream
// primed with the same settings, which is sufficient for the common
// deflate_copy use (forking a stream before a speculative flush).
func (s *DeflateStream) Copy() (*DeflateStream, error) {
	return newDeflateStream(s.cfg, s.accel, s.level, s.windowBits, s.shim.current, s.dict, s.header)
}

// End implements deflate_end.
func (s *DeflateStream) End() error {
	return s.active().End()
}
