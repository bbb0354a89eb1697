package addrcodec

import (
	"errors"
	"strings"
	"testing"

	"github.com/stableport/bridge-orchestrator/internal/chaincfg"
)

func digest20(b byte) [20]byte {
	var d [20]byte
	for i := range d {
		d[i] = b ^ byte(i)
	}
	return d
}

func TestFormatDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		version byte
	}{
		{name: "production", version: VersionProduction},
		{name: "test", version: VersionTest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := digest20(0xA7)
			addr := Format(tt.version, want)

			version, got, err := Decode(addr)
			if err != nil {
				t.Fatalf("Decode(%q): %v", addr, err)
			}
			if version != tt.version {
				t.Fatalf("version: got 0x%02x want 0x%02x", version, tt.version)
			}
			if got != want {
				t.Fatalf("digest: got %x want %x", got, want)
			}
		})
	}
}

func TestFormat_Deterministic(t *testing.T) {
	d := digest20(0x42)
	a := Format(VersionProduction, d)
	b := Format(VersionProduction, d)
	if a != b {
		t.Fatalf("Format is not deterministic: %q vs %q", a, b)
	}
}

func TestDecode_Malformed(t *testing.T) {
	valid := Format(VersionProduction, digest20(0x01))

	tests := []struct {
		name string
		addr string
	}{
		{name: "empty", addr: ""},
		{name: "invalid charset", addr: strings.Replace(valid, string(valid[len(valid)-1]), "O", 1)},
		{name: "wrong length", addr: valid + "1"},
		{name: "truncated", addr: valid[:len(valid)-3]},
		{name: "whitespace", addr: " " + valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.addr); !errors.Is(err, ErrInvalidAddress) {
				t.Fatalf("Decode(%q): got %v, want ErrInvalidAddress", tt.addr, err)
			}
		})
	}
}

func TestDecode_UnknownVersionByte(t *testing.T) {
	// 0x23 is neither production nor test; checksum is valid so only the
	// version check can reject it.
	payload := make([]byte, 0, payloadLen)
	payload = append(payload, 0x23)
	d := digest20(0x09)
	payload = append(payload, d[:]...)
	addr := base58CheckEncode(payload)

	if _, _, err := Decode(addr); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Decode: got %v, want ErrInvalidAddress", err)
	}
}

func TestEncodeRecipient_WireLayout(t *testing.T) {
	d := digest20(0x5C)
	addr := Format(VersionTest, d)

	enc, err := EncodeRecipient(addr)
	if err != nil {
		t.Fatalf("EncodeRecipient: %v", err)
	}

	for i := 0; i < 11; i++ {
		if enc[i] != 0 {
			t.Fatalf("byte %d: got 0x%02x, want zero padding", i, enc[i])
		}
	}
	if enc[11] != VersionTest {
		t.Fatalf("version byte: got 0x%02x want 0x%02x", enc[11], VersionTest)
	}
	var got [20]byte
	copy(got[:], enc[12:])
	if got != d {
		t.Fatalf("digest: got %x want %x", got, d)
	}
}

func TestEncodeDecodeRecipient_RoundTrip(t *testing.T) {
	for _, version := range []byte{VersionProduction, VersionTest} {
		addr := Format(version, digest20(0xEE))

		enc, err := EncodeRecipient(addr)
		if err != nil {
			t.Fatalf("EncodeRecipient: %v", err)
		}
		back, err := DecodeRecipient(enc)
		if err != nil {
			t.Fatalf("DecodeRecipient: %v", err)
		}
		if back != addr {
			t.Fatalf("round trip: got %q want %q", back, addr)
		}
	}
}

func TestEncodeRecipient_Injective(t *testing.T) {
	a, err := EncodeRecipient(Format(VersionProduction, digest20(0x10)))
	if err != nil {
		t.Fatalf("EncodeRecipient: %v", err)
	}
	b, err := EncodeRecipient(Format(VersionProduction, digest20(0x11)))
	if err != nil {
		t.Fatalf("EncodeRecipient: %v", err)
	}
	if a == b {
		t.Fatalf("distinct identities encoded to the same recipient: %x", a)
	}
}

func TestDecodeRecipient_RejectsDirtyPadding(t *testing.T) {
	enc, err := EncodeRecipient(Format(VersionProduction, digest20(0x31)))
	if err != nil {
		t.Fatalf("EncodeRecipient: %v", err)
	}
	enc[3] = 0xFF
	if _, err := DecodeRecipient(enc); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("DecodeRecipient: got %v, want ErrInvalidAddress", err)
	}
}

func TestDecodeRecipient_RejectsUnknownVersion(t *testing.T) {
	var enc [32]byte
	enc[11] = 0x77
	if _, err := DecodeRecipient(enc); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("DecodeRecipient: got %v, want ErrInvalidAddress", err)
	}
}

func TestDetectNetwork(t *testing.T) {
	prod := Format(VersionProduction, digest20(0x77))
	test := Format(VersionTest, digest20(0x77))

	if got := DetectNetwork(prod); got != chaincfg.NetworkProduction {
		t.Fatalf("DetectNetwork(%q): got %s want production", prod, got)
	}
	if got := DetectNetwork(test); got != chaincfg.NetworkTest {
		t.Fatalf("DetectNetwork(%q): got %s want test", test, got)
	}
	if got := DetectNetwork("0xDEADBEEF"); got != chaincfg.NetworkNone {
		t.Fatalf("DetectNetwork hex: got %s want none", got)
	}
	if got := DetectNetwork(""); got != chaincfg.NetworkNone {
		t.Fatalf("DetectNetwork empty: got %s want none", got)
	}
}

func TestValidateForNetwork_DistinguishesMismatchFromMalformed(t *testing.T) {
	test := Format(VersionTest, digest20(0x44))

	err := ValidateForNetwork(test, chaincfg.NetworkProduction)
	if !errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("network mismatch: got %v, want ErrWrongNetwork", err)
	}
	if errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("network mismatch must not read as malformed: %v", err)
	}

	err = ValidateForNetwork("not-an-address", chaincfg.NetworkProduction)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("malformed: got %v, want ErrInvalidAddress", err)
	}
	if errors.Is(err, ErrWrongNetwork) {
		t.Fatalf("malformed must not read as network mismatch: %v", err)
	}

	if err := ValidateForNetwork(test, chaincfg.NetworkTest); err != nil {
		t.Fatalf("matching network: %v", err)
	}
}
