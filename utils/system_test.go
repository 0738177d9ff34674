package utils

import "testing"

func TestGetOptimalWorkerCount(t *testing.T) {
	if got := GetOptimalWorkerCount("7", 4); got != 7 {
		t.Errorf("manual override = %d; want 7", got)
	}
	for _, v := range []string{"auto", "", "bogus", "-3"} {
		got := GetOptimalWorkerCount(v, 3)
		if got < 1 || got > 3 {
			t.Errorf("GetOptimalWorkerCount(%q, 3) = %d; want within [1,3]", v, got)
		}
	}
}
