package utils

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestJobCursorRoundtrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	enc, err := EncodeJobCursor(at, 4217)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeJobCursor(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.UpdatedAt.Equal(at) || got.ID != 4217 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestDecodeJobCursorRejectsBadInput(t *testing.T) {
	if _, err := DecodeJobCursor(""); err == nil {
		t.Fatal("empty cursor must fail")
	}
	if _, err := DecodeJobCursor("not base64 %%%"); err == nil {
		t.Fatal("bad base64 must fail")
	}

	junk := base64.RawURLEncoding.EncodeToString([]byte("plain text"))
	if _, err := DecodeJobCursor(junk); err == nil {
		t.Fatal("non-json cursor must fail")
	}

	empty := base64.RawURLEncoding.EncodeToString([]byte("{}"))
	if _, err := DecodeJobCursor(empty); err == nil {
		t.Fatal("zero-valued cursor must fail")
	}
}
