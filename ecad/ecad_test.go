package ecad

import "testing"

func TestStateName(t *testing.T) {
	cases := map[uint16]string{
		StateInit:                    "INIT",
		StateSafeOp:                  "SAFE_OP",
		StateSafeOp | StateErrorFlag: "SAFE_OP + ERROR",
		StateOp:                      "OPERATIONAL",
		0x07:                         "UNKNOWN",
	}
	for state, want := range cases {
		if have := StateName(state); have != want {
			t.Fatalf("StateName(%#02x): want %q, have %q", state, want, have)
		}
	}
}
