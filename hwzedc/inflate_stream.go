package hwzedc

import (
	"github.com/hwzedc/hwzedc/codec"
	"github.com/hwzedc/hwzedc/inflate"
	"github.com/hwzedc/hwzedc/status"
	"github.com/hwzedc/hwzedc/swfallback"
)

// InflateStream is the public inflate-direction facade: inflate_init's
// single streaming object, switching between the hardware inflate
// Engine and the swfallback Inflater at most once — the exact switch
// point spec.md §4.6 describes ("on the first inflate call where
// avail_in > 0 and total_in == 0").
type InflateStream struct {
	cfg   *Config
	accel *Accelerator

	windowBits int
	contextID  uint32

	shim shimState
	hw   *inflate.Engine
	sw   *swfallback.Inflater

	dict []byte
}

// NewInflateStream implements inflate_init.
func NewInflateStream(cfg *Config, accel *Accelerator, windowBits int) (*InflateStream, error) {
	wantHardware := !cfg.ForceSoftware && cfg.HardwareDirection.Inflate
	if wantHardware && accel == nil {
		return nil, status.New(status.StreamError, "inflate_init requested hardware with no Accelerator")
	}
	target := implSoftware
	if wantHardware {
		target = implHardware
	}
	return newInflateStream(cfg, accel, windowBits, target, nil)
}

func newInflateStream(cfg *Config, accel *Accelerator, windowBits int, target impl, dict []byte) (*InflateStream, error) {
	s := &InflateStream{
		cfg:        cfg,
		accel:      accel,
		windowBits: windowBits,
		dict:       dict,
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

func (s *InflateStream) openHardware() error {
	s.contextID = s.accel.nextContextID()
	hw, err := inflate.New(s.windowBits, s.accel.dispatcher, s.accel.sim, s.contextID)
	if err != nil {
		return err
	}
	if len(s.dict) > 0 {
		if err := hw.SetDictionary(s.dict); err != nil {
			return err
		}
	}
	s.hw = hw
	return nil
}

func (s *InflateStream) openSoftware() error {
	sw, err := swfallback.NewInflater(s.windowBits)
	if err != nil {
		return err
	}
	if len(s.dict) > 0 {
		if err := sw.SetDictionary(s.dict); err != nil {
			return err
		}
	}
	s.sw = sw
	return nil
}

func (s *InflateStream) active() codec.Inflater {
	if s.shim.current == implHardware {
		return s.hw
	}
	return s.sw
}

// SetDictionary implements inflate_set_dictionary.
func (s *InflateStream) SetDictionary(dict []byte) error {
	s.dict = dict
	return s.active().SetDictionary(dict)
}

// GetDictionary implements inflate_get_dictionary. Only the hardware
// engine can satisfy this (swfallback.Inflater.GetDictionary always
// errors — klauspost's readers don't expose window contents); a
// software-side caller gets that error surfaced unchanged.
func (s *InflateStream) GetDictionary() ([]byte, error) {
	return s.active().GetDictionary()
}

// GetHeader implements inflate_get_header.
func (s *InflateStream) GetHeader() (*codec.GzipHeader, error) {
	return s.active().GetHeader()
}

// Inflate implements the inflate(flush) operation.
func (s *InflateStream) Inflate(input, output []byte, flush codec.FlushMode) (consumed, produced int, st status.Status, err error) {
	if shouldSwitch, target := s.shim.checkpoint(len(input), s.cfg.InflateSmallInputThreshold); shouldSwitch {
		if err := s.switchTo(target); err != nil {
			return 0, 0, status.StreamError, err
		}
	}

	in := &codec.Cursor{Buf: input}
	out := &codec.Cursor{Buf: output}
	st, err = s.active().Inflate(in, out, flush)
	consumed = len(input) - len(in.Buf)
	produced = len(output) - len(out.Buf)
	if produced > 0 {
		s.shim.producedOutput = true
	}
	return consumed, produced, st, err
}

func (s *InflateStream) switchTo(target impl) error {
	if target == s.shim.current {
		return nil
	}
	if target == implHardware && (s.accel == nil || s.cfg.ForceSoftware || !s.cfg.HardwareDirection.Inflate) {
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

// Reset implements inflate_reset.
func (s *InflateStream) Reset() error {
	s.shim = shimState{current: s.shim.current}
	return s.active().Reset()
}

// Reset2 implements inflate_reset2, reselecting window_bits (and thus
// wrapper format) without tearing down the switching shim's state.
func (s *InflateStream) Reset2(windowBits int) error {
	s.windowBits = windowBits
	s.shim = shimState{current: s.shim.current}
	return s.active().Reset2(windowBits)
}

// End implements inflate_end.
func (s *InflateStream) End() error {
	return s.active().End()
}
