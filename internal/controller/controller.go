// ============================================================================
// Replica Scaler 控制器 - 單一任務的副本協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 管理一個 JobInstanceDescriptor 的完整生命週期和副本數量
//
// 架構設計:
//   Controller 通過 replica.Factory 創建副本，並驅動每個 replica.Handle：
//
//   Start ──> Scale ──┬── up:   gauge+1 → Create → 重放 bindings → Run
//                     └── down: GracefulShutdown → Kill（後進先出）
//
//   Finished ──> 等待 readiness gate ──> 收集已完成副本 ──> 分類結果
//
// 狀態機:
//   stopped → starting → started ⇄ paused
//                           └──────────→ finished（終態）
//
// 並發安全:
//   - opMu 串行化生命週期操作（Scale / Pause / Resume / GracefulShutdown / EvaluateQueues）
//   - mu 保護內部數據（live / resolved / exceptions / state），不跨 Handle 調用持有
//   - Finished 不持有 opMu，單次運行任務可以在擴容期間收集完成的副本
//   - startSem（單許可信號量）避免並發 Start 重複啟動
//
// 失敗語義:
//   副本失敗（放置失敗、執行失敗）只記錄到 exceptions，不從生命週期方法返回；
//   只有配置錯誤會同步返回 *ConfigurationError。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ChuLiYu/replica-scaler/internal/binding"
	"github.com/ChuLiYu/replica-scaler/internal/metrics"
	"github.com/ChuLiYu/replica-scaler/internal/replica"
	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

// DefaultShutdownGrace bounds how long a cooperative shutdown may take before
// the replica is killed.
const DefaultShutdownGrace = 5 * time.Second

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Controller 配置
type Config struct {
	Descriptor types.JobInstanceDescriptor
	Factory    replica.Factory     // resolved once from the descriptor's backend
	Sink       replica.MetricsSink // replica-count gauge, optional
	Recorder   Recorder            // controller counters, optional

	ShutdownGrace time.Duration // wait for a cooperative shutdown before Kill
}

// record is the controller's view of one replica.
type record struct {
	label     string
	handle    replica.Handle
	signal    replica.Signal
	evaluated binding.Generation // last binding map delivered
	recorded  bool               // outcome already classified
}

// Controller 單一任務的副本控制器
type Controller struct {
	factory  replica.Factory
	sink     replica.MetricsSink
	recorder Recorder
	grace    time.Duration

	startSem *semaphore.Weighted
	ready    *gate
	bindings binding.Propagator

	opMu sync.Mutex // serialises lifecycle operations

	mu          sync.Mutex // guards the fields below
	desc        types.JobInstanceDescriptor
	state       types.ControllerState
	launched    bool
	nextOrdinal int
	live        []*record // creation order
	resolved    []*record // drained by Finished
	exceptions  []error
	scaling     int           // reconciliations in progress; blocks finishing
	scaleDone   chan struct{} // closed when scaling drops back to 0
}

// Status is a point-in-time view of a controller.
type Status struct {
	Job        string                `json:"job"`
	State      types.ControllerState `json:"state"`
	SingleRun  bool                  `json:"single_run"`
	Live       int                   `json:"live"`
	Target     int                   `json:"target"`
	Replicas   []string              `json:"replicas"`
	Exceptions int                   `json:"exceptions"`
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Controller 實例
//
// 返回值：
//   - *Controller: Controller 實例
//   - error: 描述符無效時返回 *ConfigurationError
func New(cfg Config) (*Controller, error) {
	desc := cfg.Descriptor.Clone()
	if err := desc.Validate(); err != nil {
		return nil, &ConfigurationError{Job: desc.Name, Reason: "invalid descriptor", Err: err}
	}
	if cfg.Factory == nil {
		return nil, &ConfigurationError{Job: desc.Name, Reason: "no replica factory"}
	}

	sink := cfg.Sink
	if sink == nil {
		sink = replica.NoopSink{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	return &Controller{
		factory:     cfg.Factory,
		sink:        safeSink{job: desc.InstanceID(), next: sink},
		recorder:    safeRecorder{next: recorder},
		grace:       grace,
		startSem:    semaphore.NewWeighted(1),
		ready:       newGate(),
		desc:        desc,
		state:       types.StateStopped,
		nextOrdinal: 1,
	}, nil
}

// Name is the instance id of the controlled job.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc.InstanceID()
}

// Descriptor returns a copy of the current descriptor.
func (c *Controller) Descriptor() types.JobInstanceDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc.Clone()
}

// TargetReplicas computes the reconciliation target from the replication mode.
func (c *Controller) TargetReplicas() (int, error) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	return targetOf(desc)
}

func targetOf(desc types.JobInstanceDescriptor) (int, error) {
	switch desc.ReplicationMode {
	case types.ReplicationManual:
		return desc.TargetReplicas, nil
	case types.ReplicationFollowQueue:
		return len(desc.ExtraQueueReferences), nil
	default:
		return 0, &ConfigurationError{
			Job:    desc.InstanceID(),
			Reason: fmt.Sprintf("unknown replication mode %q", desc.ReplicationMode),
		}
	}
}

// Start scales the job to replicas, or to TargetReplicas when nil.
//
// 流程：
//  1. 計算目標副本數（配置錯誤立即返回）
//  2. 首次調用：後台擴容，等待 readiness gate 打開
//     單次運行任務在第一個副本創建後即返回；持續任務等待全部副本
//  3. 之後的調用：同步調和到目標副本數
func (c *Controller) Start(ctx context.Context, replicas *int) error {
	target, err := c.resolveTarget(replicas)
	if err != nil {
		return err
	}

	if err := c.startSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("start %s: %w", c.Name(), err)
	}
	defer c.startSem.Release(1)

	c.mu.Lock()
	if c.state == types.StateFinished {
		c.mu.Unlock()
		log().Info("Start ignored, job already finished", "job", c.desc.InstanceID())
		return nil
	}
	first := !c.launched
	c.launched = true
	if c.state == types.StateStopped {
		c.state = types.StateStarting
	}
	c.mu.Unlock()

	if first {
		// The scale-up must not stop halfway because the caller gave up waiting.
		scaleCtx := context.WithoutCancel(ctx)
		go func() {
			c.opMu.Lock()
			defer c.opMu.Unlock()
			c.scaleLocked(scaleCtx, target)
		}()
		if err := c.ready.Wait(ctx); err != nil {
			return fmt.Errorf("start %s: waiting for readiness: %w", c.Name(), err)
		}
	} else {
		c.opMu.Lock()
		c.scaleLocked(ctx, target)
		c.opMu.Unlock()
	}

	c.mu.Lock()
	if c.state == types.StateStarting || c.state == types.StateStopped {
		c.state = types.StateStarted
	}
	c.mu.Unlock()

	log().Info("Job started", "job", c.Name(), "target", target)
	return nil
}

func (c *Controller) resolveTarget(replicas *int) (int, error) {
	if replicas == nil {
		return c.TargetReplicas()
	}
	if *replicas < 0 {
		return 0, &ConfigurationError{Job: c.Name(), Reason: fmt.Sprintf("negative replica count %d", *replicas)}
	}
	return *replicas, nil
}

// Scale reconciles the live replica count to n. Replica failures are only
// observable through Exceptions.
func (c *Controller) Scale(ctx context.Context, n int) error {
	if n < 0 {
		return &ConfigurationError{Job: c.Name(), Reason: fmt.Sprintf("negative replica count %d", n)}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isFinished() {
		log().Info("Scale ignored, job already finished", "job", c.Name())
		return nil
	}
	c.scaleLocked(ctx, n)
	return nil
}

// Reconcile swaps in an updated descriptor of the same job and scales to its
// target. A FOLLOW_QUEUE job follows changes of its extra queue references.
func (c *Controller) Reconcile(ctx context.Context, desc types.JobInstanceDescriptor) error {
	desc = desc.Clone()
	if err := desc.Validate(); err != nil {
		return &ConfigurationError{Job: desc.Name, Reason: "invalid descriptor", Err: err}
	}
	if desc.InstanceID() != c.Name() {
		return &ConfigurationError{
			Job:    c.Name(),
			Reason: fmt.Sprintf("descriptor belongs to %s", desc.InstanceID()),
		}
	}
	target, err := targetOf(desc)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.desc = desc
	finished := c.state == types.StateFinished
	c.mu.Unlock()

	if finished {
		log().Info("Reconcile ignored, job already finished", "job", desc.InstanceID())
		return nil
	}
	c.scaleLocked(ctx, target)
	return nil
}

// scaleLocked runs with opMu held.
func (c *Controller) scaleLocked(ctx context.Context, n int) {
	if !c.beginScaling() {
		c.ready.Open()
		return
	}
	defer c.endScaling()

	start := time.Now()
	job := c.Name()
	current := c.liveCount()

	direction := metrics.DirectionNoop
	switch {
	case n == current:
		log().Debug("Replica count already at target", "job", job, "replicas", n)
	case n < current:
		direction = metrics.DirectionDown
		log().Info("Scaling down", "job", job, "from", current, "to", n)
		c.shutdownLocked(ctx, current-n)
	default:
		direction = metrics.DirectionUp
		log().Info("Scaling up", "job", job, "from", current, "to", n)
		c.scaleUp(ctx, n-current)
	}

	// Whatever the outcome, the first reconciliation releases the waiters.
	c.ready.Open()
	c.recorder.RecordScale(job, direction, time.Since(start))
}

// scaleUp creates count replicas strictly one after another.
func (c *Controller) scaleUp(ctx context.Context, count int) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	job := desc.InstanceID()

	for i := 0; i < count; i++ {
		c.mu.Lock()
		ordinal := c.nextOrdinal
		c.nextOrdinal++
		c.mu.Unlock()

		c.sink.Increment()

		handle, err := c.factory.Create(ctx, desc, ordinal, c.sink)
		if err != nil {
			c.sink.Decrement()
			c.recordPlacementFailure(job, replica.Label(desc.Name, ordinal), err)
			continue
		}

		rec := &record{label: handle.Label(), handle: handle}

		// Bindings go out before Run so no replica starts unbound.
		gen, err := c.bindings.Replay(ctx, handle, 0)
		if err != nil {
			c.kill(ctx, handle)
			c.sink.Decrement()
			c.recordPlacementFailure(job, rec.label, fmt.Errorf("deliver queue bindings: %w", err))
			continue
		}
		rec.evaluated = gen
		rec.signal = handle.Run(ctx)

		c.mu.Lock()
		finished := c.state == types.StateFinished
		if !finished {
			c.live = append(c.live, rec)
		}
		c.mu.Unlock()
		if finished {
			// a finished job takes no new replicas
			c.kill(ctx, handle)
			c.sink.Decrement()
			continue
		}

		c.recorder.RecordCreated(job)
		log().Debug("Replica created", "job", job, "label", rec.label)

		if desc.SingleRun {
			c.ready.Open()
		}
	}
}

// beginScaling marks a reconciliation in progress. It fails once the job
// finished.
func (c *Controller) beginScaling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateFinished {
		return false
	}
	if c.scaling == 0 {
		c.scaleDone = make(chan struct{})
	}
	c.scaling++
	return true
}

func (c *Controller) endScaling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaling--
	if c.scaling == 0 {
		close(c.scaleDone)
	}
}

// scalingDone returns a channel closed when no reconciliation is in
// progress, or nil when none is.
func (c *Controller) scalingDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scaling == 0 {
		return nil
	}
	return c.scaleDone
}

func (c *Controller) recordPlacementFailure(job, label string, err error) {
	var pe *replica.PlacementError
	if !errors.As(err, &pe) {
		pe = &replica.PlacementError{Label: label, Reason: "create failed", Err: err}
	}
	log().Warn("Replica placement failed", "job", job, "label", label, "error", err)

	c.mu.Lock()
	c.exceptions = append(c.exceptions, pe)
	c.mu.Unlock()
	c.recorder.RecordFailure(job, metrics.FailurePlacement)
}

// ============================================================================
// 完成狀態檢查
// ============================================================================

// Finished reports whether every replica has completed. A positive timeout
// bounds how long it waits; timeout <= 0 only inspects what already resolved.
// Single-run jobs are inspected in one pass; continuous jobs keep draining
// completions until none are live or the timeout passes.
func (c *Controller) Finished(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		return c.checkFinished(ctx, true)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.checkFinished(ctx, false)
}

// WaitFinished blocks until the job finished or ctx is done.
func (c *Controller) WaitFinished(ctx context.Context) error {
	for {
		if c.checkFinished(ctx, false) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (c *Controller) checkFinished(ctx context.Context, poll bool) bool {
	if poll {
		if !c.ready.IsOpen() {
			return false
		}
	} else if err := c.ready.Wait(ctx); err != nil {
		return false
	}

	c.mu.Lock()
	if c.state == types.StateFinished {
		c.mu.Unlock()
		return true
	}
	singleRun := c.desc.SingleRun
	c.mu.Unlock()

	for {
		pending := c.liveSnapshot()
		if len(pending) > 0 {
			if !poll {
				waitAll(ctx, pending)
			}
			c.drain(pending)
		}

		if c.tryFinish() {
			return true
		}
		if poll || ctx.Err() != nil {
			return false
		}

		// Nothing live but a scale-up is still creating replicas: wait for
		// it instead of declaring the job finished.
		if c.liveCount() == 0 {
			if done := c.scalingDone(); done != nil {
				select {
				case <-done:
				case <-ctx.Done():
					return false
				}
			}
			continue
		}
		if singleRun {
			return false
		}
	}
}

// waitAll blocks until every record resolved or ctx is done.
func waitAll(ctx context.Context, records []*record) {
	for _, rec := range records {
		select {
		case <-rec.signal.Done():
		case <-ctx.Done():
			return
		}
	}
}

// drain removes the resolved records among candidates from the live list,
// then classifies their outcomes.
func (c *Controller) drain(candidates []*record) {
	done := make(map[*record]bool, len(candidates))
	for _, rec := range candidates {
		if replica.IsDone(rec.signal) {
			done[rec] = true
		}
	}
	if len(done) == 0 {
		return
	}

	c.mu.Lock()
	kept := c.live[:0]
	var drained []*record
	for _, rec := range c.live {
		if done[rec] {
			drained = append(drained, rec)
			continue
		}
		kept = append(kept, rec)
	}
	clear(c.live[len(kept):])
	c.live = kept
	c.resolved = append(c.resolved, drained...)
	c.mu.Unlock()

	for range drained {
		c.sink.Decrement()
	}
	c.classify(drained)
}

// classify records the failures among resolved records exactly once.
func (c *Controller) classify(records []*record) {
	job := c.Name()
	for _, rec := range records {
		c.mu.Lock()
		if rec.recorded {
			c.mu.Unlock()
			continue
		}
		rec.recorded = true
		err := rec.signal.Err()
		if err != nil {
			var ee *replica.ReplicaExecutionError
			if !errors.As(err, &ee) {
				err = &replica.ReplicaExecutionError{Label: rec.label, Err: err}
			}
			c.exceptions = append(c.exceptions, err)
		}
		c.mu.Unlock()

		if err != nil {
			log().Warn("Replica failed", "job", job, "label", rec.label, "error", err)
			c.recorder.RecordFailure(job, metrics.FailureExecution)
		} else {
			log().Debug("Replica completed", "job", job, "label", rec.label)
		}
	}
}

// tryFinish moves the job to finished when nothing is live and no
// reconciliation is creating replicas.
func (c *Controller) tryFinish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateFinished {
		return true
	}
	if len(c.live) > 0 || c.scaling > 0 {
		return false
	}
	c.state = types.StateFinished
	log().Info("Job finished", "job", c.desc.InstanceID(), "exceptions", len(c.exceptions))
	return true
}

func (c *Controller) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == types.StateFinished
}

// Successful forces a finished check and reports whether it finished without
// any recorded failure.
func (c *Controller) Successful(ctx context.Context) bool {
	if !c.checkFinished(ctx, true) {
		return false
	}

	c.mu.Lock()
	resolved := append([]*record(nil), c.resolved...)
	c.mu.Unlock()
	c.classify(resolved)

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exceptions) == 0
}

// Failed reports whether the job finished with at least one recorded
// failure. A job that has not finished yet has not failed.
func (c *Controller) Failed(ctx context.Context) bool {
	if !c.checkFinished(ctx, true) {
		return false
	}
	return !c.Successful(ctx)
}

// Exceptions returns nil while the job is not finished, otherwise every
// recorded failure in the order it was observed.
func (c *Controller) Exceptions(ctx context.Context) []error {
	if !c.checkFinished(ctx, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error{}, c.exceptions...)
}

// ============================================================================
// 生命週期操作
// ============================================================================

// EvaluateQueues stores bindings and hands them to every live replica that
// does not hold them yet. Replicas created later receive them before Run.
func (c *Controller) EvaluateQueues(ctx context.Context, bindings types.QueueBindings) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.bindings.Store(bindings)
	job := c.Name()

	for _, rec := range c.liveSnapshot() {
		c.mu.Lock()
		seen := rec.evaluated
		c.mu.Unlock()

		gen, err := c.bindings.Replay(ctx, rec.handle, seen)
		if err != nil {
			log().Warn("Failed to deliver queue bindings", "job", job, "label", rec.label, "error", err)
			continue
		}

		c.mu.Lock()
		rec.evaluated = gen
		c.mu.Unlock()
	}
	return nil
}

// Pause broadcasts a pause to every live replica.
func (c *Controller) Pause(ctx context.Context) error {
	return c.broadcast(ctx, "pause", types.StatePaused, replica.Handle.Pause)
}

// Resume broadcasts a resume to every live replica.
func (c *Controller) Resume(ctx context.Context) error {
	return c.broadcast(ctx, "resume", types.StateStarted, replica.Handle.Resume)
}

func (c *Controller) broadcast(ctx context.Context, op string, next types.ControllerState,
	call func(replica.Handle, context.Context) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isFinished() {
		log().Info("Lifecycle call ignored, job already finished", "job", c.Name(), "op", op)
		return nil
	}

	job := c.Name()
	for _, rec := range c.liveSnapshot() {
		if err := call(rec.handle, ctx); err != nil {
			log().Warn("Replica lifecycle call failed", "job", job, "label", rec.label, "op", op, "error", err)
		}
	}

	c.mu.Lock()
	if c.state != types.StateFinished {
		c.state = next
	}
	c.mu.Unlock()

	log().Info("Job "+op+"d", "job", job)
	return nil
}

// GracefulShutdown stops n replicas, or all of them when n is nil, most
// recently created first. Each replica gets a cooperative shutdown request
// and the shutdown grace to exit, then is killed regardless.
func (c *Controller) GracefulShutdown(ctx context.Context, n *int) error {
	if n != nil && *n < 0 {
		return &ConfigurationError{Job: c.Name(), Reason: fmt.Sprintf("negative shutdown count %d", *n)}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	count := c.liveCount()
	if n != nil && *n < count {
		count = *n
	}
	c.shutdownLocked(ctx, count)

	if n == nil {
		c.mu.Lock()
		if c.state != types.StateFinished {
			c.state = types.StateStopped
		}
		c.mu.Unlock()
	}
	return nil
}

// shutdownLocked runs with opMu held.
func (c *Controller) shutdownLocked(ctx context.Context, n int) {
	c.mu.Lock()
	if n > len(c.live) {
		n = len(c.live)
	}
	keep := len(c.live) - n
	victims := append([]*record(nil), c.live[keep:]...)
	clear(c.live[keep:])
	c.live = c.live[:keep]
	c.mu.Unlock()

	job := c.Name()
	for i := len(victims) - 1; i >= 0; i-- {
		rec := victims[i]

		graceCtx, cancel := context.WithTimeout(ctx, c.grace)
		if err := rec.handle.GracefulShutdown(graceCtx); err != nil {
			log().Warn("Graceful shutdown failed", "job", job, "label", rec.label, "error", err)
		} else {
			select {
			case <-rec.signal.Done():
			case <-graceCtx.Done():
				log().Warn("Replica did not exit within grace period", "job", job, "label", rec.label)
			}
		}
		cancel()

		c.kill(ctx, rec.handle)
		c.sink.Decrement()
		log().Debug("Replica removed", "job", job, "label", rec.label)
	}
}

// kill outlives the caller's cancellation, so a kill is always attempted,
// but is bounded by the shutdown grace so an unresponsive handle cannot block.
func (c *Controller) kill(ctx context.Context, h replica.Handle) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.grace)
	defer cancel()
	h.Kill(killCtx)
}

// ============================================================================
// 狀態查詢
// ============================================================================

// State returns the lifecycle state.
func (c *Controller) State() types.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Replicas returns the labels of the live replicas in creation order.
func (c *Controller) Replicas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := make([]string, 0, len(c.live))
	for _, rec := range c.live {
		labels = append(labels, rec.label)
	}
	return labels
}

// Status returns a snapshot for status endpoints.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, _ := targetOf(c.desc)
	labels := make([]string, 0, len(c.live))
	for _, rec := range c.live {
		labels = append(labels, rec.label)
	}
	return Status{
		Job:        c.desc.InstanceID(),
		State:      c.state,
		SingleRun:  c.desc.SingleRun,
		Live:       len(c.live),
		Target:     target,
		Replicas:   labels,
		Exceptions: len(c.exceptions),
	}
}

func (c *Controller) liveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Controller) liveSnapshot() []*record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*record(nil), c.live...)
}
