package dist

import "testing"

func TestLocalContext(t *testing.T) {
	ctx := Local(3)
	if ctx.Device != 3 {
		t.Errorf("expected device 3, got %d", ctx.Device)
	}
	if !ctx.IsMain() {
		t.Error("single-replica context must be main")
	}
	if ctx.WorldSize != 1 {
		t.Errorf("expected world size 1, got %d", ctx.WorldSize)
	}
	if err := ctx.Group.SyncGradients(nil); err != nil {
		t.Errorf("local sync must be a no-op, got: %v", err)
	}
	if err := ctx.Group.Barrier(); err != nil {
		t.Errorf("local barrier must be a no-op, got: %v", err)
	}
}

func TestIsMain(t *testing.T) {
	worker := Context{Rank: 2, WorldSize: 4, Group: LocalGroup{}}
	if worker.IsMain() {
		t.Error("rank 2 reported as main")
	}
}
