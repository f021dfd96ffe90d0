package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "ingest", JobInstanceDescriptor{Name: "ingest"}.InstanceID())
	assert.Equal(t, "etl/ingest", JobInstanceDescriptor{Name: "ingest", Group: "etl/"}.InstanceID())
}

func TestDefaults(t *testing.T) {
	d := JobInstanceDescriptor{Name: "a"}
	assert.Equal(t, PlacementPack, d.Placement())
	assert.Equal(t, BackendLocal, d.BackendOrDefault())
}

func TestQueueReferences(t *testing.T) {
	d := JobInstanceDescriptor{
		Name:                 "a",
		InputQueue:           "in",
		OutputQueues:         []QueueReference{"out"},
		ExtraQueueReferences: []QueueReference{"x1", "x2"},
	}
	assert.Equal(t, []QueueReference{"in", "out", "x1", "x2"}, d.QueueReferences())
}

func TestCloneIsDeep(t *testing.T) {
	d := JobInstanceDescriptor{
		Name:                 "a",
		ExtraQueueReferences: []QueueReference{"x1"},
		Parameters:           map[string]string{"k": "v"},
	}
	c := d.Clone()
	c.ExtraQueueReferences[0] = "changed"
	c.Parameters["k"] = "changed"

	assert.Equal(t, QueueReference("x1"), d.ExtraQueueReferences[0])
	assert.Equal(t, "v", d.Parameters["k"])
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		desc    JobInstanceDescriptor
		wantErr string
	}{
		{"valid", JobInstanceDescriptor{Name: "a", ReplicationMode: ReplicationManual, TargetReplicas: 2}, ""},
		{"missing name", JobInstanceDescriptor{}, "name is required"},
		{"negative target", JobInstanceDescriptor{Name: "a", TargetReplicas: -1}, "target_replicas"},
		{"negative cpu", JobInstanceDescriptor{Name: "a", Resources: ResourceRequest{CPU: -1}}, "resources"},
		{"bad placement", JobInstanceDescriptor{Name: "a", PlacementStrategy: "RANDOM"}, "placement"},
		{"bad backend", JobInstanceDescriptor{Name: "a", Backend: "ray"}, "backend"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.desc.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestQueueBindings(t *testing.T) {
	b := QueueBindings{"in": {Kind: "memory", Address: "in-0"}}
	c := b.Clone()
	assert.True(t, b.Equal(c))

	c["out"] = QueueEndpoint{Kind: "memory", Address: "out-0"}
	assert.False(t, b.Equal(c))
	assert.Len(t, b, 1)

	var nilBindings QueueBindings
	assert.Nil(t, nilBindings.Clone())
}
