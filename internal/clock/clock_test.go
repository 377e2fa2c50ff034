package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(1000, 0))
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(5*time.Second, func() { order = append(order, 5) })

	c.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order after 3s = %v, want [1 2]", order)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", c.Pending())
	}
	if got := c.Now(); !got.Equal(time.Unix(1003, 0)) {
		t.Errorf("Now = %v", got)
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	stop := c.AfterFunc(time.Second, func() { fired = true })
	if !stop() {
		t.Fatal("first stop should report true")
	}
	if stop() {
		t.Error("second stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_NonPositiveRunsImmediately(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	c.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Error("AfterFunc(0) should run synchronously")
	}
}
