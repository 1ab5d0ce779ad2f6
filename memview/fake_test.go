package memview

import "testing"

func TestFakeClient_ResolveAndWrite(t *testing.T) {
	c := NewFakeClient(0x12345)
	addr := c.Alloc(16)
	c.SetArg(addr)

	if c.Request() != 0x12345 {
		t.Fatalf("Request() = %#x, want 0x12345", c.Request())
	}
	if c.Arg() != addr {
		t.Fatalf("Arg() = %#x, want %#x", c.Arg(), addr)
	}

	view, err := c.Resolve(uintptr(addr), 16, true, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if view.ClientAddr() != addr {
		t.Fatalf("ClientAddr() = %#x, want %#x", view.ClientAddr(), addr)
	}

	view.Bytes()[0] = 0xAB
	if c.At(addr)[0] != 0xAB {
		t.Error("write through view did not land in the backing region")
	}
}

func TestFakeClient_ResolveSubRange(t *testing.T) {
	c := NewFakeClient(0)
	addr := c.Alloc(64)

	view, err := c.Resolve(uintptr(addr)+16, 8, true, true)
	if err != nil {
		t.Fatalf("Resolve sub-range: %v", err)
	}
	if view.ClientAddr() != addr+16 {
		t.Fatalf("ClientAddr() = %#x, want %#x", view.ClientAddr(), addr+16)
	}
	if len(view.Bytes()) != 8 {
		t.Fatalf("len(Bytes()) = %d, want 8", len(view.Bytes()))
	}
}

func TestFakeClient_ResolveOutOfBounds(t *testing.T) {
	c := NewFakeClient(0)
	addr := c.Alloc(8)

	if _, err := c.Resolve(uintptr(addr), 16, true, true); err == nil {
		t.Error("expected error resolving past region end")
	}
	if _, err := c.Resolve(uintptr(addr)+100, 4, true, true); err == nil {
		t.Error("expected error resolving unmapped address")
	}
}

func TestFakeClient_SetPtrAndDirtyRecursive(t *testing.T) {
	c := NewFakeClient(0)
	parentAddr := c.Alloc(16)
	childAddr := c.Alloc(8)

	parent, err := c.Resolve(uintptr(parentAddr), 16, true, true)
	if err != nil {
		t.Fatalf("Resolve parent: %v", err)
	}
	child, err := c.Resolve(uintptr(childAddr), 8, true, true)
	if err != nil {
		t.Fatalf("Resolve child: %v", err)
	}

	parent.SetPtr(0, child)
	got := c.PeekUint64(parentAddr, 0)
	if got != childAddr {
		t.Errorf("SetPtr wrote %#x, want %#x", got, childAddr)
	}

	parent.Dirty(true)
	pv := parent.(*fakeView)
	cv := child.(*fakeView)
	if !pv.IsDirty() || !cv.IsDirty() {
		t.Error("Dirty(true) did not mark both parent and linked child dirty")
	}
}

func TestFakeClient_Complete(t *testing.T) {
	c := NewFakeClient(0)
	if _, _, ok := c.Completed(); ok {
		t.Fatal("Completed() reported true before any Complete call")
	}

	c.Complete(-1, 25)
	ret, errno, ok := c.Completed()
	if !ok || ret != -1 || errno != 25 {
		t.Errorf("Completed() = %d, %d, %v, want -1, 25, true", ret, errno, ok)
	}
}
