package channel

import (
	"math"
	"testing"

	"github.com/fieldwire/modgate/internal/model"
)

// TestS3Float32CDABSwap exercises the 32-bit float decode scenario:
// register words swapped per endian CDAB.
func TestS3Float32CDABSwap(t *testing.T) {
	// 100.0 as IEEE754 float32 is 0x42C80000, ABCD bytes 42 C8 00 00.
	// CDAB swaps word order: 00 00 42 C8.
	data := []byte{0x00, 0x00, 0x42, 0xC8}
	v, err := DecodeValue(data, model.TypeFloat, 2, model.EndianCDAB)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if v.Kind != model.KindFloat || v.Float != 100.0 {
		t.Fatalf("decoded = %+v, want 100.0", v)
	}
}

func TestDecodeValueABCDIsPlainBigEndian(t *testing.T) {
	data := []byte{0x42, 0xC8, 0x00, 0x00}
	v, err := DecodeValue(data, model.TypeFloat, 2, model.EndianABCD)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if v.Float != 100.0 {
		t.Fatalf("decoded = %v, want 100.0", v.Float)
	}
}

func TestDecodeValueDCBAFullByteReversal(t *testing.T) {
	// Big-endian bytes A B C D become D C B A.
	abcd := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	dcba := []byte{0xDD, 0xCC, 0xBB, 0xAA}
	v1, err := DecodeValue(abcd, model.TypeUint, 2, model.EndianABCD)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := DecodeValue(dcba, model.TypeUint, 2, model.EndianDCBA)
	if err != nil {
		t.Fatal(err)
	}
	if v1.Uint != v2.Uint {
		t.Fatalf("ABCD=%d DCBA=%d, want equal", v1.Uint, v2.Uint)
	}
}

// TestDecodeValue64BitIgnoresEndian locks in a documented asymmetry:
// 64-bit values always decode as plain big-endian, regardless of the
// configured Endian.
func TestDecodeValue64BitIgnoresEndian(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0, 0, 0, 42}
	for _, e := range []model.Endian{model.EndianABCD, model.EndianDCBA, model.EndianBADC, model.EndianCDAB} {
		v, err := DecodeValue(data, model.TypeUint, 4, e)
		if err != nil {
			t.Fatalf("endian %s: %v", e, err)
		}
		if v.Uint != 42 {
			t.Fatalf("endian %s: decoded %d, want 42 (64-bit must ignore endian)", e, v.Uint)
		}
	}
}

func TestDecodeValueBoolFromRegister(t *testing.T) {
	v, err := DecodeValue([]byte{0x00, 0x01}, model.TypeBool, 1, model.EndianABCD)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Bool {
		t.Fatalf("expected true")
	}
}

func TestDecodeValueShortDataErrors(t *testing.T) {
	_, err := DecodeValue([]byte{0x00}, model.TypeUint, 1, model.EndianABCD)
	if err == nil {
		t.Fatal("expected error for short data")
	}
}

func TestApplyScale(t *testing.T) {
	v := ApplyScale(model.Int(1234), 0.1)
	if math.Abs(v.Float-123.4) > 1e-9 {
		t.Fatalf("scaled = %v, want 123.4", v.Float)
	}
	unscaled := ApplyScale(model.Int(7), 0)
	if unscaled.Kind != model.KindInt || unscaled.Int != 7 {
		t.Fatalf("scale=0 should pass through unchanged, got %+v", unscaled)
	}
}
