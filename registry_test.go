// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vkxpresent

import "testing"

// TestAnyOutputNameHasXwaylandPrefix implements spec §8 scenario 6 at the
// boundary this package can unit test without a live X connection: the
// RandR-output-name heuristic detectXwayland consults after querying the
// server. A real connection object is not fakeable here (*xgb.Conn is a
// concrete type, not an interface this package can substitute), so the
// wire-querying half of detectXwayland is exercised only by the grounding
// it shares with QueryExtension/QueryVersion calls elsewhere in this file.
func TestAnyOutputNameHasXwaylandPrefix(t *testing.T) {
	cases := []struct {
		names []string
		want  bool
	}{
		{[]string{"XWAYLAND0"}, true},
		{[]string{"eDP-1"}, false},
		{[]string{"eDP-1", "XWAYLAND1"}, true},
		{nil, false},
		{[]string{"HDMI-A-1", "DP-2"}, false},
	}
	for _, c := range cases {
		if got := anyOutputNameHasXwaylandPrefix(c.names); got != c.want {
			t.Errorf("anyOutputNameHasXwaylandPrefix(%v) = %v, want %v", c.names, got, c.want)
		}
	}
}

func TestIsBadRequestCode(t *testing.T) {
	if isBadRequestCode(fakeCoder{code: 1}) != true {
		t.Fatal("isBadRequestCode with code 1 = false, want true")
	}
	if isBadRequestCode(fakeCoder{code: 2}) != false {
		t.Fatal("isBadRequestCode with code 2 = true, want false")
	}
}

type fakeCoder struct{ code int }

func (f fakeCoder) Error() string { return "fake" }
func (f fakeCoder) Code() int     { return f.code }
