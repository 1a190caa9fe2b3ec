package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
)

func TestDAGValidate_Acyclic(t *testing.T) {
	d := domain.DAG{
		Tasks: []domain.Task{
			{ID: "n1"},
			{ID: "n2", DependsOn: []string{"n1"}},
			{ID: "n3", DependsOn: []string{"n2"}},
		},
	}
	require.NoError(t, d.Validate())
}

func TestDAGValidate_SelfLoop(t *testing.T) {
	d := domain.DAG{Tasks: []domain.Task{{ID: "n1", DependsOn: []string{"n1"}}}}
	err := d.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.KindDependencyCycle, domain.KindOf(err))
}

func TestDAGValidate_Cycle(t *testing.T) {
	d := domain.DAG{
		Tasks: []domain.Task{
			{ID: "n1", DependsOn: []string{"n2"}},
			{ID: "n2", DependsOn: []string{"n1"}},
		},
	}
	err := d.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.KindDependencyCycle, domain.KindOf(err))
}

func TestDAGValidate_MissingDependency(t *testing.T) {
	d := domain.DAG{Tasks: []domain.Task{{ID: "n1", DependsOn: []string{"ghost"}}}}
	err := d.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.KindMissingDependency, domain.KindOf(err))
}

func TestDAGTopoLayers_SequentialThenID(t *testing.T) {
	d := domain.DAG{
		Tasks: []domain.Task{
			{ID: "n3", DependsOn: []string{"n1"}},
			{ID: "n1"},
			{ID: "n2"},
			{ID: "n4", DependsOn: []string{"n2", "n1"}},
		},
	}
	layers := d.TopoLayers()
	require.Len(t, layers, 2)
	assert.Equal(t, []string{"n1", "n2"}, layers[0])
	assert.Equal(t, []string{"n3", "n4"}, layers[1])
}

func TestPermissionLevel_Satisfies(t *testing.T) {
	assert.True(t, domain.PermissionTrusted.Satisfies(domain.PermissionReadonly))
	assert.False(t, domain.PermissionMinimal.Satisfies(domain.PermissionNetworkAPI))
	assert.True(t, domain.PermissionFilesystem.Satisfies(domain.PermissionFilesystem))
}
