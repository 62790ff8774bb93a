package revision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	loaded := docStub{id: "7"}
	reg.MustRegister("doc", HandlerFuncs{
		LoadFunc: func(ctx context.Context, id string) (Revisionable, error) {
			return docStub{id: id}, nil
		},
	})
	require.NoError(t, reg.Register("page", HandlerFuncs{}))

	handler, err := reg.Lookup("doc")
	require.NoError(t, err)
	entity, err := handler.Load(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, loaded.RevisionRef(), entity.RevisionRef())

	_, err = reg.Lookup("user")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	err = reg.Register("doc", HandlerFuncs{})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	assert.Equal(t, []string{"doc", "page"}, reg.Types())

	pageHandler, err := reg.Lookup("page")
	require.NoError(t, err)
	_, err = pageHandler.Restore(context.Background(), loaded, Snapshot{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCaptureSuppressionIsScopedToContext(t *testing.T) {
	base := context.Background()
	suppressed := SuppressCapture(base)
	assert.True(t, CaptureSuppressed(suppressed))
	assert.False(t, CaptureSuppressed(base))
}

func TestActorFromContext(t *testing.T) {
	assert.Nil(t, ActorFromContext(context.Background()))
	assert.Nil(t, ActorFromContext(WithActor(context.Background(), "")))
	actor := ActorFromContext(WithActor(context.Background(), "user-1"))
	require.NotNil(t, actor)
	assert.Equal(t, "user-1", *actor)
}

func TestRenderUnified(t *testing.T) {
	from := Snapshot{"title": "A", "body": "same"}
	to := Snapshot{"title": "B", "body": "same"}
	out, err := RenderUnified("v1", from, "v2", to)
	require.NoError(t, err)
	assert.Contains(t, out, "--- v1")
	assert.Contains(t, out, "+++ v2")
	assert.Contains(t, out, `-title = "A"`)
	assert.Contains(t, out, `+title = "B"`)

	same, err := RenderUnified("v1", from, "v1", from)
	require.NoError(t, err)
	assert.Empty(t, same)
}
