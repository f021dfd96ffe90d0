// Package types defines the core domain model shared by the replica-scaler packages:
// job instance descriptors, replication modes, resource requests and queue bindings.
package types

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ReplicationMode decides how a controller computes its target replica count.
type ReplicationMode string

const (
	ReplicationManual      ReplicationMode = "MANUAL"       // target is TargetReplicas
	ReplicationFollowQueue ReplicationMode = "FOLLOW_QUEUE" // target is len(ExtraQueueReferences)
)

// PlacementStrategy is consumed by replica backends when choosing a node.
type PlacementStrategy string

const (
	PlacementPack         PlacementStrategy = "PACK"
	PlacementSpread       PlacementStrategy = "SPREAD"
	PlacementStrictSpread PlacementStrategy = "STRICT_SPREAD"
)

// BackendKind selects the replica factory a controller is built with.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
)

// ControllerState is the lifecycle state of one job controller.
type ControllerState string

const (
	StateStopped  ControllerState = "stopped"
	StateStarting ControllerState = "starting"
	StateStarted  ControllerState = "started"
	StatePaused   ControllerState = "paused"
	StateFinished ControllerState = "finished" // terminal
)

// ResourceRequest is what a single replica asks the runtime for.
type ResourceRequest struct {
	CPU         float64 `json:"cpu" yaml:"cpu"`
	MemoryBytes int64   `json:"memory_bytes" yaml:"memory_bytes"`
}

// QueueReference is the logical identifier of a queue.
type QueueReference string

// QueueEndpoint is the concrete runtime location a QueueReference resolves to.
type QueueEndpoint struct {
	Kind    string `json:"kind" yaml:"kind"`
	Address string `json:"address" yaml:"address"`
}

// QueueBindings maps logical queue references to their endpoints.
type QueueBindings map[QueueReference]QueueEndpoint

// Clone returns a copy that is safe to hand to another owner.
func (b QueueBindings) Clone() QueueBindings {
	if b == nil {
		return nil
	}
	return maps.Clone(b)
}

// Equal reports whether both maps hold the same bindings.
func (b QueueBindings) Equal(other QueueBindings) bool {
	return maps.Equal(b, other)
}

// JobInstanceDescriptor is the immutable description of what to run.
type JobInstanceDescriptor struct {
	Name  string `json:"name" yaml:"name"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	ReplicationMode ReplicationMode `json:"replication_mode" yaml:"replication_mode"`
	TargetReplicas  int             `json:"target_replicas" yaml:"target_replicas"`

	Resources         ResourceRequest   `json:"resources" yaml:"resources"`
	PlacementStrategy PlacementStrategy `json:"placement_strategy,omitempty" yaml:"placement_strategy,omitempty"`
	SingleRun         bool              `json:"single_run" yaml:"single_run"`

	InputQueue           QueueReference   `json:"input_queue,omitempty" yaml:"input_queue,omitempty"`
	OutputQueues         []QueueReference `json:"output_queues,omitempty" yaml:"output_queues,omitempty"`
	ExtraQueueReferences []QueueReference `json:"extra_queue_references,omitempty" yaml:"extra_queue_references,omitempty"`

	Backend    BackendKind       `json:"backend,omitempty" yaml:"backend,omitempty"`
	Work       string            `json:"work" yaml:"work"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// InstanceID identifies the descriptor inside a registry.
func (d JobInstanceDescriptor) InstanceID() string {
	if d.Group == "" {
		return d.Name
	}
	return strings.TrimSuffix(d.Group, "/") + "/" + d.Name
}

// Placement returns the placement strategy, defaulting to PACK.
func (d JobInstanceDescriptor) Placement() PlacementStrategy {
	if d.PlacementStrategy == "" {
		return PlacementPack
	}
	return d.PlacementStrategy
}

// BackendOrDefault returns the backend, defaulting to the local one.
func (d JobInstanceDescriptor) BackendOrDefault() BackendKind {
	if d.Backend == "" {
		return BackendLocal
	}
	return d.Backend
}

// QueueReferences lists every queue the job touches, input first.
func (d JobInstanceDescriptor) QueueReferences() []QueueReference {
	refs := make([]QueueReference, 0, 1+len(d.OutputQueues)+len(d.ExtraQueueReferences))
	if d.InputQueue != "" {
		refs = append(refs, d.InputQueue)
	}
	refs = append(refs, d.OutputQueues...)
	refs = append(refs, d.ExtraQueueReferences...)
	return refs
}

// Clone returns a deep copy of the descriptor.
func (d JobInstanceDescriptor) Clone() JobInstanceDescriptor {
	out := d
	out.OutputQueues = append([]QueueReference(nil), d.OutputQueues...)
	out.ExtraQueueReferences = append([]QueueReference(nil), d.ExtraQueueReferences...)
	if d.Parameters != nil {
		out.Parameters = maps.Clone(d.Parameters)
	}
	return out
}

// Validate checks the fields a controller cannot work without.
// The replication mode itself is checked lazily by the controller so that an
// unknown mode surfaces as a configuration error at the call site.
func (d JobInstanceDescriptor) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.TargetReplicas < 0 {
		errs = append(errs, fmt.Errorf("target_replicas must not be negative, got %d", d.TargetReplicas))
	}
	if d.Resources.CPU < 0 || d.Resources.MemoryBytes < 0 {
		errs = append(errs, fmt.Errorf("resources must not be negative, got cpu=%v memory=%d",
			d.Resources.CPU, d.Resources.MemoryBytes))
	}
	switch d.Placement() {
	case PlacementPack, PlacementSpread, PlacementStrictSpread:
	default:
		errs = append(errs, fmt.Errorf("unknown placement strategy %q", d.PlacementStrategy))
	}
	switch d.BackendOrDefault() {
	case BackendLocal, BackendRemote:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", d.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid descriptor %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}
