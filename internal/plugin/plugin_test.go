package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// mockPlugin implements Plugin for testing.
type mockPlugin struct {
	name  string
	kinds []string
}

func (m *mockPlugin) Name() string {
	return m.name
}

func (m *mockPlugin) Descriptors() []resource.Descriptor {
	out := make([]resource.Descriptor, len(m.kinds))
	for i, kind := range m.kinds {
		out[i] = resource.Descriptor{
			Kind: kind,
			Enumerate: func(context.Context, resource.Session) ([]resource.Record, error) {
				return nil, nil
			},
			Name:      func(r resource.Record) string { return r.(string) },
			CreatedAt: func(resource.Record) (time.Time, bool) { return time.Time{}, false },
			Terminate: func(context.Context, resource.Session, resource.Record) error { return nil },
		}
	}
	return out
}

func TestRegister(t *testing.T) {
	Clear()
	defer Clear()

	p := &mockPlugin{name: "test"}
	Register(p)

	got, ok := Get("test")
	require.True(t, ok)
	assert.Equal(t, "test", got.Name())
}

func TestGet_NotFound(t *testing.T) {
	Clear()
	defer Clear()

	_, ok := Get("nonexistent")
	assert.False(t, ok)
}

func TestAll(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockPlugin{name: "gcp"})
	Register(&mockPlugin{name: "aws"})

	all := All()
	require.Len(t, all, 2)
	assert.Equal(t, "aws", all[0].Name())
	assert.Equal(t, "gcp", all[1].Name())
}

func TestAll_Empty(t *testing.T) {
	Clear()
	defer Clear()

	assert.Empty(t, All())
}

func TestNames(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockPlugin{name: "gcp"})
	Register(&mockPlugin{name: "aws"})

	assert.Equal(t, []string{"aws", "gcp"}, Names())
}

func TestRegister_Overwrite(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockPlugin{name: "aws", kinds: []string{"A"}})
	Register(&mockPlugin{name: "aws", kinds: []string{"B"}})

	reg, err := Kinds()
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, reg.Names())
}

func TestKinds(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockPlugin{name: "aws", kinds: []string{"Ec2Vpc", "Ec2Instance"}})
	Register(&mockPlugin{name: "gcp", kinds: []string{"GceInstance"}})

	reg, err := Kinds()
	require.NoError(t, err)
	assert.Equal(t, []string{"Ec2Instance", "Ec2Vpc", "GceInstance"}, reg.Names())
}

func TestKinds_Duplicate(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockPlugin{name: "aws", kinds: []string{"Shared"}})
	Register(&mockPlugin{name: "other", kinds: []string{"Shared"}})

	_, err := Kinds()
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrDuplicateKind)
	assert.Contains(t, err.Error(), "plugin other")
}
