package status

import "testing"

func TestIsError(t *testing.T) {
	nonErrors := []Status{Ok, StreamEnd, NeedDict}
	for _, s := range nonErrors {
		if s.IsError() {
			t.Errorf("%v: IsError() = true, want false", s)
		}
	}

	errors := []Status{StreamError, DataError, MemError, BufError, ErrCard, IrqTimeout, EventFail, SelectFail}
	for _, s := range errors {
		if !s.IsError() {
			t.Errorf("%v: IsError() = false, want true", s)
		}
	}
}

func TestErrorString(t *testing.T) {
	e := New(DataError, "crc mismatch")
	if got, want := e.Error(), "data error: crc mismatch"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := New(BufError, "")
	if got, want := bare.Error(), "buffer error"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestClassifyCardFault(t *testing.T) {
	if got := ClassifyCardFault(RetcNeedDict, AttnNeedDict); got != NeedDict {
		t.Errorf("ClassifyCardFault(need-dict pair) = %v, want NeedDict", got)
	}
	if got := ClassifyCardFault(RetcNeedDict, 0); got != ErrCard {
		t.Errorf("ClassifyCardFault(retc match, attn mismatch) = %v, want ErrCard", got)
	}
	if got := ClassifyCardFault(0, AttnNeedDict); got != ErrCard {
		t.Errorf("ClassifyCardFault(attn match, retc mismatch) = %v, want ErrCard", got)
	}
}

func TestStringUnknown(t *testing.T) {
	if got := Status(999).String(); got != "unknown status" {
		t.Errorf("String() on unknown status = %q, want %q", got, "unknown status")
	}
}
