package replay

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]Amount{
		"0":        0,
		"1000000":  1_000_000,
		"0xf4240":  1_000_000,
		"0x000010": 16,
		"0X0":      0,
		" 42 ":     42,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "1.5", "0xzz", "18446744073709551616"} {
		if _, err := ParseAmount(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestAmountJSON(t *testing.T) {
	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":7,"b":"8","c":"0x9"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != 7 || v.B != 8 || v.C != 9 {
		t.Fatalf("decoded %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":-3}`), &v); err == nil {
		t.Fatalf("expected negative amount error")
	}
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey("0x1234"); err == nil {
		t.Fatalf("expected length error")
	}
	key, err := ParseKey("0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000")
	if err != nil || key[0] != 0xab {
		t.Fatalf("parse key: %v %x", err, key)
	}
}
