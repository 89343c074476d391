package memory

import (
	"context"
	"testing"

	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/dao"
	"github.com/stretchr/testify/assert"
)

func TestService(t *testing.T) {
	svc := New()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, svc.Save(ctx, &execution.Run{}), dao.ErrInvalidID)

	run := &execution.Run{ID: "r1", State: execution.StateRunning}
	assert.NoError(t, svc.Save(ctx, run))

	loaded, err := svc.Load(ctx, "r1")
	assert.NoError(t, err)
	assert.Same(t, run, loaded)

	// Saving the same run merges into the stored instance.
	update := &execution.Run{ID: "r1", State: execution.StateCompleted, SCN: 3}
	assert.NoError(t, svc.Save(ctx, update))
	loaded, _ = svc.Load(ctx, "r1")
	assert.Same(t, run, loaded)
	assert.Equal(t, execution.StateCompleted, loaded.State)
	assert.Equal(t, 3, loaded.SCN)

	_, err = svc.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	assert.NoError(t, svc.Save(ctx, &execution.Run{ID: "r2", State: execution.StateRunning}))
	running, err := svc.List(ctx, dao.NewParameter("State", execution.StateRunning))
	assert.NoError(t, err)
	assert.Len(t, running, 1)
	assert.Equal(t, "r2", running[0].ID)

	assert.NoError(t, svc.Delete(ctx, "r1"))
	assert.ErrorIs(t, svc.Delete(ctx, "r1"), dao.ErrNotFound)
}
