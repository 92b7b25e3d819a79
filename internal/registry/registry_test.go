package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	identifier string
	entities   map[int64]string
}

func (s *staticSource) Identifier() string { return s.identifier }

func (s *staticSource) Load(_ context.Context, objectID int64) (interface{}, error) {
	name, ok := s.entities[objectID]
	if !ok {
		return nil, nil
	}
	return name, nil
}

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&staticSource{identifier: "user", entities: map[int64]string{1: "alice"}}))
	require.NoError(t, reg.Register(&staticSource{identifier: "project", entities: map[int64]string{}}))

	src, ok := reg.Lookup("user")
	require.True(t, ok)
	assert.Equal(t, "user", src.Identifier())

	_, ok = reg.Lookup("organization")
	assert.False(t, ok)

	assert.Equal(t, []string{"project", "user"}, reg.Identifiers())
}

func TestRegisterDuplicate(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&staticSource{identifier: "user"}))
	assert.Error(t, reg.Register(&staticSource{identifier: "user"}))
}

func TestLoad(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(&staticSource{identifier: "user", entities: map[int64]string{1: "alice"}}))

	entity, err := reg.Load(context.Background(), Ref{Identifier: "user", ObjectID: 1})
	require.NoError(t, err)
	assert.Equal(t, "alice", entity)

	entity, err = reg.Load(context.Background(), Ref{Identifier: "user", ObjectID: 42})
	require.NoError(t, err)
	assert.Nil(t, entity)

	_, err = reg.Load(context.Background(), Ref{Identifier: "organization", ObjectID: 1})
	assert.Error(t, err)
}
