package pools

import "testing"

type fakeConn struct {
	id    int
	dirty bool
}

func (c *fakeConn) Reset() { c.dirty = false }

func TestConnectionPool(t *testing.T) {
	next := 0
	cp := NewConnectionPool(func() *fakeConn {
		next++
		return &fakeConn{id: next}
	})

	c := cp.Get()
	if c.id != 1 {
		t.Fatalf("expected fresh object, got id %d", c.id)
	}
	c.dirty = true
	cp.Put(c)
	if c.dirty {
		t.Fatal("Put did not reset")
	}

	s := cp.Stats()
	if s.Gets != 1 || s.Puts != 1 || s.News != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.HitRate != 0 {
		t.Fatalf("expected hit rate 0, got %v", s.HitRate)
	}
}
