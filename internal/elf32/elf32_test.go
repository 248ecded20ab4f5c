package elf32

import "testing"

func TestStubRoundTrip(t *testing.T) {
	b := Stub(42)
	if !HasMagic(b) {
		t.Fatalf("expected stub to carry the ELF magic")
	}
	entry, err := Entry(b)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry != 42 {
		t.Fatalf("got entry %d, want 42", entry)
	}
}

func TestHasMagicRejectsBadHeader(t *testing.T) {
	if HasMagic([]byte{0x7f, 0x45, 0x4c, 0x00}) {
		t.Fatalf("expected a mismatched 4th byte to fail")
	}
	if HasMagic([]byte{0x7f}) {
		t.Fatalf("expected a too-short header to fail")
	}
}

func TestEntryRejectsShortHeader(t *testing.T) {
	if _, err := Entry(make([]byte, 10)); err == nil {
		t.Fatalf("expected failure reading entry from a too-short header")
	}
}
