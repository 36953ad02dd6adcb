package term

import "testing"

func TestNullIsANoOp(t *testing.T) {
	var n Null
	if err := n.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	n.Restore() // must not panic
}
