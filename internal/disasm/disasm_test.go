package disasm

import (
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	// mov x29, sp ; ret
	data := []byte{0xfd, 0x03, 0x00, 0x91, 0xc0, 0x03, 0x5f, 0xd6}

	s := Decode(0x1000, data)

	if len(s) != 2 {
		t.Fatalf("len = %d, want 2", len(s))
	}
	if s[1].VA != 0x1004 || s[1].Op != "ret" {
		t.Errorf("second instruction = %+v", s[1])
	}
	if !strings.HasPrefix(s[0].String(), "1000") {
		t.Errorf("String() = %q, want address prefix", s[0].String())
	}
	if got := s.Find(0x1004); got != 1 {
		t.Errorf("Find(0x1004) = %d, want 1", got)
	}
	if got := s.Find(0x1002); got != -1 {
		t.Errorf("Find(0x1002) = %d, want -1", got)
	}
	if got := s.Find(0x2000); got != -1 {
		t.Errorf("Find(0x2000) = %d, want -1", got)
	}
}
