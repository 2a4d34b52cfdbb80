package layers_test

import (
	"context"
	"testing"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/layers"
	"github.com/stretchr/testify/assert"
)

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	stub := newStub(caps())
	acc := layers.NewReadOnly().Layer(stub)

	c := acc.Info().Capability
	assert.True(t, c.Narrows(stub.Info().Capability))
	assert.True(t, c.Stat)
	assert.True(t, c.Read)
	assert.True(t, c.List)
	assert.True(t, c.Presign)
	assert.True(t, c.PresignRead)
	assert.False(t, c.PresignWrite)
	for _, op := range []anystore.Operation{
		anystore.OpWrite, anystore.OpCreateDir, anystore.OpDelete,
		anystore.OpCopy, anystore.OpRename, anystore.OpBatch,
	} {
		assert.False(t, c.Supports(op), op.String())
	}

	t.Run("direct calls are rejected", func(t *testing.T) {
		_, err := acc.Write(ctx, "obj", anystore.WriteOptions{})
		assert.ErrorIs(t, err, anystore.ErrUnsupported)

		err = acc.Delete(ctx, "obj", anystore.DeleteOptions{})
		assert.ErrorIs(t, err, anystore.ErrUnsupported)

		_, err = acc.Presign(ctx, "obj", anystore.PresignOptions{Operation: anystore.OpWrite})
		assert.ErrorIs(t, err, anystore.ErrUnsupported)

		assert.Zero(t, stub.Calls(anystore.OpWrite))
		assert.Zero(t, stub.Calls(anystore.OpDelete))
	})

	t.Run("operator gate", func(t *testing.T) {
		op := anystore.NewOperator(stub, layers.NewReadOnly())

		err := op.Delete(ctx, "obj")
		assert.ErrorIs(t, err, anystore.ErrUnsupported)

		_, err = op.Stat(ctx, "obj")
		assert.NoError(t, err)
		assert.Zero(t, stub.Calls(anystore.OpDelete))
	})
}
