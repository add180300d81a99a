package mesh_test

import (
	"testing"

	"github.com/meshboard/meshboard/internal/mesh"
)

// TestCanonicalID exercises every identifier shape the radio's node
// directory and packet headers are known to produce.
func TestCanonicalID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{name: "uint32", in: uint32(0xdeadbeef), want: "!deadbeef"},
		{name: "int", in: int(0x1a2b3c4d), want: "!1a2b3c4d"},
		{name: "int64 masked to 32 bits", in: int64(0x1_0000_0001), want: "!00000001"},
		{name: "small int zero-padded", in: int(7), want: "!00000007"},
		{name: "bang prefixed lower", in: "!deadbeef", want: "!deadbeef"},
		{name: "bang prefixed upper", in: "!DEADBEEF", want: "!deadbeef"},
		{name: "bare hex 8 digits", in: "deadbeef", want: "!deadbeef"},
		{name: "0x prefixed hex", in: "0xdeadbeef", want: "!deadbeef"},
		{name: "decimal string", in: "3735928559", want: "!deadbeef"},
		{name: "whitespace trimmed", in: " !deadbeef ", want: "!deadbeef"},
		{name: "empty string", in: "", wantErr: true},
		{name: "bang with short hex", in: "!dead", wantErr: true},
		{name: "bang with junk", in: "!deadbeez", wantErr: true},
		{name: "garbage", in: "bob", wantErr: true},
		{name: "unsupported type", in: 3.14, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := mesh.CanonicalID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CanonicalID(%v) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalID(%v): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("CanonicalID(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestCanonicalRoundTrip verifies canon(parse(canon(n))) == canon(n) for a
// spread of 32-bit node numbers.
func TestCanonicalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []uint32{0, 1, 0xff, 0x1000, 0xdeadbeef, 0xffffffff} {
		id := mesh.CanonicalNum(n)
		back, err := mesh.ParseNum(id)
		if err != nil {
			t.Fatalf("ParseNum(%q): %v", id, err)
		}
		if mesh.CanonicalNum(back) != id {
			t.Errorf("round trip %#x: got %q, want %q", n, mesh.CanonicalNum(back), id)
		}
	}
}

func TestDiscriminator(t *testing.T) {
	t.Parallel()

	withID := mesh.Packet{From: "!00000001", ID: 42, RxTime: 100}
	withoutID := mesh.Packet{From: "!00000001", RxTime: 100}

	if withID.Discriminator() == withoutID.Discriminator() {
		t.Error("packets with and without transport id must not collide")
	}
	if withoutID.Discriminator() != (mesh.Packet{From: "!00000001", RxTime: 100}).Discriminator() {
		t.Error("fallback discriminator must be stable for identical packets")
	}
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	if got := mesh.DecodeText([]byte("hello")); got != "hello" {
		t.Errorf("DecodeText valid = %q", got)
	}
	got := mesh.DecodeText([]byte{0x68, 0x69, 0xff, 0xfe})
	if got[:2] != "hi" {
		t.Errorf("DecodeText invalid prefix = %q", got)
	}
}
