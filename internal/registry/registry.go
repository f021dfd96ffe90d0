// ============================================================================
// Replica Scaler 任務註冊表 - 多個控制器的管理器
// ============================================================================
//
// Package: internal/registry
// 文件: registry.go
// 功能: 以 InstanceID 管理多個 Controller，套用描述符變更並處理管理指令
//
// 設計理念:
//   1. factories map - 啟動時以 BackendKind 解析一次，調和路徑不做字串分派
//   2. jobs map - 單一真實來源，每個任務一個 Controller
//   3. store - 每次 Apply 後持久化描述符，重啟時 Restore
//
// Apply 流程:
//   新描述符   → New Controller → EvaluateQueues → Start（並發）
//   已有描述符 → EvaluateQueues（綁定變化時）→ Reconcile（目標變化時）
//   移除描述符 → GracefulShutdown → 刪除指標
//
// 並發安全:
//   - applyMu 串行化 Apply / ShutdownJob / Shutdown
//   - mu (RWMutex) 保護 jobs map，查詢使用 RLock
//
// ============================================================================

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/replica-scaler/internal/controller"
	"github.com/ChuLiYu/replica-scaler/internal/metrics"
	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/internal/store"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
	// 不支援的管理指令
	ErrUnknownInstruction = errors.New("unknown instruction")
	// 沒有對應後端的 factory
	ErrNoFactory = errors.New("no replica factory for backend")
	// 描述符重複
	ErrDuplicateJob = errors.New("duplicate job")
)

// Instruction is a management command for ManageJob.
type Instruction string

const (
	InstructionPause  Instruction = "pause"
	InstructionResume Instruction = "resume"
)

// Options tunes the controllers the manager builds.
type Options struct {
	ShutdownGrace time.Duration
	Store         *store.Store // optional
}

// Manager 任務註冊表
type Manager struct {
	factories map[types.BackendKind]replica.Factory
	collector *metrics.Collector
	opts      Options

	applyMu sync.Mutex

	mu       sync.RWMutex
	jobs     map[string]*controller.Controller
	bindings types.QueueBindings
	reported map[string]bool // single-run jobs whose outcome was logged
}

// Outcome is the result of a single-run job reported by Sweep.
type Outcome struct {
	Job        string
	Successful bool
	Exceptions []error
}

// New 建立註冊表
//
// 參數：
//   - factories: 每種後端的 replica factory
//   - collector: Prometheus 指標，可為 nil
//   - opts: 控制器選項
func New(factories map[types.BackendKind]replica.Factory, collector *metrics.Collector, opts Options) *Manager {
	return &Manager{
		factories: factories,
		collector: collector,
		opts:      opts,
		jobs:      make(map[string]*controller.Controller),
		reported:  make(map[string]bool),
	}
}

// Restore re-applies the descriptors persisted in the store.
func (m *Manager) Restore(ctx context.Context) error {
	if m.opts.Store == nil {
		return nil
	}
	state, err := m.opts.Store.Load()
	if err != nil {
		return fmt.Errorf("restore descriptors: %w", err)
	}
	log().Info("Restoring jobs from store", "jobs", len(state.Descriptors), "path", m.opts.Store.Path())
	return m.Apply(ctx, state.Descriptors, state.Bindings)
}

// Apply makes the set of running jobs match descriptors.
func (m *Manager) Apply(ctx context.Context, descriptors []types.JobInstanceDescriptor, bindings types.QueueBindings) error {
	wanted, err := m.index(descriptors)
	if err != nil {
		return err
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	existing := make(map[string]*controller.Controller, len(m.jobs))
	for id, c := range m.jobs {
		existing[id] = c
	}
	m.bindings = bindings.Clone()
	m.mu.Unlock()

	// 1. 移除不再存在的任務
	for id, c := range existing {
		if _, ok := wanted[id]; !ok {
			m.remove(ctx, id, c)
		}
	}

	// 2. 更新已有任務
	var errs []error
	for id, desc := range wanted {
		c, ok := existing[id]
		if !ok {
			continue
		}
		if b := bindingsFor(desc, bindings); len(b) > 0 {
			if err := c.EvaluateQueues(ctx, b); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.Reconcile(ctx, desc); err != nil {
			errs = append(errs, err)
		}
	}

	// 3. 並發啟動新任務
	g, gctx := errgroup.WithContext(ctx)
	for id, desc := range wanted {
		if _, ok := existing[id]; ok {
			continue
		}
		c, err := m.build(desc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		m.jobs[id] = c
		m.mu.Unlock()

		b := bindingsFor(desc, bindings)
		g.Go(func() error {
			if len(b) > 0 {
				if err := c.EvaluateQueues(gctx, b); err != nil {
					return err
				}
			}
			if err := c.Start(gctx, nil); err != nil {
				return fmt.Errorf("start %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := m.persist(); err != nil {
		errs = append(errs, err)
	}
	log().Info("Jobs applied", "jobs", len(wanted), "removed", len(existing)-countKept(existing, wanted))
	return errors.Join(errs...)
}

func (m *Manager) index(descriptors []types.JobInstanceDescriptor) (map[string]types.JobInstanceDescriptor, error) {
	wanted := make(map[string]types.JobInstanceDescriptor, len(descriptors))
	var errs []error
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := m.factories[d.BackendOrDefault()]; !ok {
			errs = append(errs, fmt.Errorf("%s: %w %q", d.InstanceID(), ErrNoFactory, d.BackendOrDefault()))
			continue
		}
		id := d.InstanceID()
		if _, dup := wanted[id]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateJob, id))
			continue
		}
		wanted[id] = d.Clone()
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return wanted, nil
}

func (m *Manager) build(desc types.JobInstanceDescriptor) (*controller.Controller, error) {
	cfg := controller.Config{
		Descriptor:    desc,
		Factory:       m.factories[desc.BackendOrDefault()],
		ShutdownGrace: m.opts.ShutdownGrace,
	}
	if m.collector != nil {
		cfg.Sink = m.collector.Sink(desc.InstanceID())
		cfg.Recorder = m.collector
	}
	return controller.New(cfg)
}

func (m *Manager) remove(ctx context.Context, id string, c *controller.Controller) {
	if err := c.GracefulShutdown(ctx, nil); err != nil {
		log().Warn("Shutdown of removed job failed", "job", id, "error", err)
	}
	m.mu.Lock()
	delete(m.jobs, id)
	delete(m.reported, id)
	m.mu.Unlock()
	if m.collector != nil {
		m.collector.Forget(id)
	}
	log().Info("Job removed", "job", id)
}

func (m *Manager) persist() error {
	if m.opts.Store == nil {
		return nil
	}
	m.mu.RLock()
	descs := make([]types.JobInstanceDescriptor, 0, len(m.jobs))
	for _, c := range m.jobs {
		descs = append(descs, c.Descriptor())
	}
	bindings := m.bindings.Clone()
	m.mu.RUnlock()

	if err := m.opts.Store.Save(descs, bindings); err != nil {
		return fmt.Errorf("persist descriptors: %w", err)
	}
	return nil
}

// bindingsFor keeps the bindings of the queues desc references.
func bindingsFor(desc types.JobInstanceDescriptor, all types.QueueBindings) types.QueueBindings {
	out := make(types.QueueBindings)
	for _, ref := range desc.QueueReferences() {
		if ep, ok := all[ref]; ok {
			out[ref] = ep
		}
	}
	return out
}

func countKept(existing map[string]*controller.Controller, wanted map[string]types.JobInstanceDescriptor) int {
	n := 0
	for id := range existing {
		if _, ok := wanted[id]; ok {
			n++
		}
	}
	return n
}

// ============================================================================
// 管理指令
// ============================================================================

// Get returns the controller of a job.
func (m *Manager) Get(id string) (*controller.Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return c, nil
}

// ScaleJob scales one job to n replicas.
func (m *Manager) ScaleJob(ctx context.Context, id string, n int) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	log().Info("Scaling job", "job", id, "replicas", n)
	return c.Scale(ctx, n)
}

// ManageJob pauses or resumes one job.
func (m *Manager) ManageJob(ctx context.Context, id string, instruction Instruction) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	switch instruction {
	case InstructionPause:
		return c.Pause(ctx)
	case InstructionResume:
		return c.Resume(ctx)
	default:
		return fmt.Errorf("%w %q for %s", ErrUnknownInstruction, instruction, id)
	}
}

// ShutdownJob stops every replica of a job and forgets it.
func (m *Manager) ShutdownJob(ctx context.Context, id string) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	c, err := m.Get(id)
	if err != nil {
		return err
	}
	m.remove(ctx, id, c)
	return m.persist()
}

// Status returns the status of every job sorted by id.
func (m *Manager) Status() []controller.Status {
	m.mu.RLock()
	out := make([]controller.Status, 0, len(m.jobs))
	for _, c := range m.jobs {
		out = append(out, c.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Sweep polls every single-run job without blocking and returns the ones
// that finished since the previous sweep. Each outcome is reported once.
func (m *Manager) Sweep(ctx context.Context) []Outcome {
	m.mu.RLock()
	pending := make(map[string]*controller.Controller)
	for id, c := range m.jobs {
		if c.Descriptor().SingleRun && !m.reported[id] {
			pending[id] = c
		}
	}
	m.mu.RUnlock()

	var out []Outcome
	for id, c := range pending {
		if !c.Finished(ctx, 0) {
			continue
		}
		o := Outcome{Job: id, Successful: c.Successful(ctx), Exceptions: c.Exceptions(ctx)}
		m.mu.Lock()
		m.reported[id] = true
		m.mu.Unlock()
		if o.Successful {
			log().Info("Job finished", "job", id)
		} else {
			log().Warn("Job finished with failures", "job", id, "exceptions", len(o.Exceptions))
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Shutdown stops every job concurrently. Descriptors stay in the store so a
// restart restores them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.RLock()
	jobs := make(map[string]*controller.Controller, len(m.jobs))
	for id, c := range m.jobs {
		jobs[id] = c
	}
	m.mu.RUnlock()

	var wg conc.WaitGroup
	for id, c := range jobs {
		wg.Go(func() {
			if err := c.GracefulShutdown(ctx, nil); err != nil {
				log().Warn("Job shutdown failed", "job", id, "error", err)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		log().Error("Job shutdown panicked", "panic", r.String())
	}
	log().Info("All jobs shut down", "jobs", len(jobs))
}
