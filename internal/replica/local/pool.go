// ============================================================================
// 本地副本池 - 每個副本一個 goroutine 的後端
// ============================================================================
//
// Package: internal/replica/local
// 文件: pool.go
// 功能: 在模擬節點上以 goroutine 運行副本，並計算 CPU / 記憶體佔用
//
// 架構設計:
//   ┌──────────────┐
//   │ Controller   │ --Create()--> Pool.place() --> node
//   └──────────────┘                  │
//                                     ▼
//   ┌──────────────────────────────────────────┐
//   │ Pool                                     │
//   │  node-0 [cpu 4 / mem 8G]  replica, ...   │
//   │  node-1 [cpu 4 / mem 8G]  replica, ...   │
//   └──────────────────────────────────────────┘
//
// 放置策略:
//   - PACK:          第一個容量足夠的節點
//   - SPREAD:        容量足夠且負載最低的節點
//   - STRICT_SPREAD: 同 SPREAD，但同一任務在每個節點最多一個副本
//   沒有節點能滿足請求時返回 *replica.PlacementError
//
// 生命週期:
//   1. NewPool(cfg)    - 建立節點
//   2. Create(...)     - 預留容量，返回閒置的 Replica
//   3. Replica.Run()   - 啟動工作 goroutine
//   4. Stop(ctx)       - 終止所有副本，拒絕新的創建
//
// ============================================================================

package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

var (
	// ErrPoolClosed means the pool was stopped and accepts no new replicas.
	ErrPoolClosed = errors.New("replica pool is closed")
	// ErrUnknownWork means the descriptor names a work function the pool does not know.
	ErrUnknownWork = errors.New("unknown work")
)

// Config sizes the simulated cluster.
type Config struct {
	Nodes      int
	NodeCPU    float64
	NodeMemory int64
	Works      map[string]WorkFunc
}

type node struct {
	id        string
	cpu       float64
	memory    int64
	usedCPU   float64
	usedMem   int64
	replicas  int
	jobCounts map[string]int
}

func (n *node) fits(req types.ResourceRequest) bool {
	return n.usedCPU+req.CPU <= n.cpu && n.usedMem+req.MemoryBytes <= n.memory
}

func (n *node) load() float64 {
	if n.cpu == 0 {
		return float64(n.replicas)
	}
	return n.usedCPU / n.cpu
}

// NodeStats is a read-only view of one node.
type NodeStats struct {
	ID       string  `json:"id"`
	UsedCPU  float64 `json:"used_cpu"`
	UsedMem  int64   `json:"used_memory"`
	Replicas int     `json:"replicas"`
}

// Pool is a local replica.Factory.
type Pool struct {
	mu       sync.Mutex
	nodes    []*node
	works    map[string]WorkFunc
	replicas map[string]*Replica // by replica id
	stopped  bool
}

var _ replica.Factory = (*Pool)(nil)

// NewPool builds a pool of cfg.Nodes identical nodes.
func NewPool(cfg Config) *Pool {
	if cfg.Nodes <= 0 {
		cfg.Nodes = 1
	}
	works := cfg.Works
	if works == nil {
		works = DefaultWorks()
	}

	nodes := make([]*node, 0, cfg.Nodes)
	for i := 0; i < cfg.Nodes; i++ {
		nodes = append(nodes, &node{
			id:        fmt.Sprintf("node-%d", i),
			cpu:       cfg.NodeCPU,
			memory:    cfg.NodeMemory,
			jobCounts: make(map[string]int),
		})
	}

	return &Pool{
		nodes:    nodes,
		works:    works,
		replicas: make(map[string]*Replica),
	}
}

// Create implements replica.Factory.
func (p *Pool) Create(ctx context.Context, desc types.JobInstanceDescriptor, ordinal int, _ replica.MetricsSink) (replica.Handle, error) {
	r, err := p.CreateReplica(ctx, desc, ordinal)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateReplica reserves capacity and returns an idle replica.
func (p *Pool) CreateReplica(ctx context.Context, desc types.JobInstanceDescriptor, ordinal int) (*Replica, error) {
	label := replica.Label(desc.Name, ordinal)
	if err := ctx.Err(); err != nil {
		return nil, &replica.PlacementError{Label: label, Reason: "create cancelled", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, &replica.PlacementError{Label: label, Reason: "pool stopped", Err: ErrPoolClosed}
	}

	work, ok := p.works[desc.Work]
	if !ok {
		return nil, &replica.PlacementError{
			Label:  label,
			Reason: fmt.Sprintf("work %q is not registered", desc.Work),
			Err:    ErrUnknownWork,
		}
	}

	n := p.place(desc)
	if n == nil {
		return nil, &replica.PlacementError{
			Label: label,
			Reason: fmt.Sprintf("no node satisfies cpu=%v memory=%d with strategy %s",
				desc.Resources.CPU, desc.Resources.MemoryBytes, desc.Placement()),
		}
	}

	n.usedCPU += desc.Resources.CPU
	n.usedMem += desc.Resources.MemoryBytes
	n.replicas++
	n.jobCounts[desc.InstanceID()]++

	r := newReplica(p, n, desc, label, work)
	p.replicas[r.id] = r

	log().Debug("Replica placed", "label", label, "node", n.id, "id", r.id)
	return r, nil
}

// place picks a node for desc. Caller holds p.mu.
func (p *Pool) place(desc types.JobInstanceDescriptor) *node {
	candidates := make([]*node, 0, len(p.nodes))
	for _, n := range p.nodes {
		if !n.fits(desc.Resources) {
			continue
		}
		if desc.Placement() == types.PlacementStrictSpread && n.jobCounts[desc.InstanceID()] > 0 {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return nil
	}

	if desc.Placement() == types.PlacementPack {
		return candidates[0]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].load() < candidates[j].load()
	})
	return candidates[0]
}

// release returns a replica's reservation. Safe to call once per replica.
func (p *Pool) release(r *Replica) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := r.node
	n.usedCPU -= r.desc.Resources.CPU
	n.usedMem -= r.desc.Resources.MemoryBytes
	n.replicas--
	id := r.desc.InstanceID()
	if n.jobCounts[id]--; n.jobCounts[id] <= 0 {
		delete(n.jobCounts, id)
	}
	delete(p.replicas, r.id)
}

// Get returns a live replica by id.
func (p *Pool) Get(id string) (*Replica, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.replicas[id]
	return r, ok
}

// ReplicaCount returns the number of replicas holding a reservation.
func (p *Pool) ReplicaCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replicas)
}

// Stats returns per-node usage.
func (p *Pool) Stats() []NodeStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]NodeStats, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, NodeStats{ID: n.id, UsedCPU: n.usedCPU, UsedMem: n.usedMem, Replicas: n.replicas})
	}
	return out
}

// Stop refuses new replicas and kills the live ones.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	live := make([]*Replica, 0, len(p.replicas))
	for _, r := range p.replicas {
		live = append(live, r)
	}
	p.mu.Unlock()

	for _, r := range live {
		r.Kill(ctx)
	}
	log().Info("Replica pool stopped", "killed", len(live))
}
