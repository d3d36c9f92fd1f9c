package discovery

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/analyzer"
	"lineage-analyzer/internal/events"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/lock"
)

var (
	// ErrMetadataUnavailable 无法读取数据源目录，本次运行中止，可重试
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	// ErrDiscoveryInProgress 同一数据源已有运行
	ErrDiscoveryInProgress = errors.New("discovery in progress")
)

// Sources 元数据提供者查找
type Sources interface {
	Provider(id string) (adapter.MetadataProvider, error)
}

// Options 引擎配置
type Options struct {
	RunConfig        analyzer.RunConfig
	UpsertWorkers    int
	WaitForLock      bool
	LockPollInterval time.Duration
}

// RunRequest 单次运行请求
type RunRequest struct {
	DataSourceID string
	// Wait 排队等待正在进行的运行，而不是直接拒绝
	Wait bool
	// Config 覆盖默认策略配置
	Config *analyzer.RunConfig
}

// Summary 运行摘要
type Summary struct {
	RunID              string                    `json:"run_id"`
	DataSourceID       string                    `json:"data_source_id"`
	SnapshotHash       string                    `json:"snapshot_hash"`
	StartedAt          time.Time                 `json:"started_at"`
	FinishedAt         time.Time                 `json:"finished_at"`
	Tables             int                       `json:"tables"`
	Columns            int                       `json:"columns"`
	Candidates         int                       `json:"candidates"`
	EdgesCreated       int                       `json:"edges_created"`
	EdgesUpdated       int                       `json:"edges_updated"`
	EdgesConfirmed     int                       `json:"edges_confirmed"`
	EdgesMarkedStale   int                       `json:"edges_marked_stale"`
	StrategiesDegraded []graph.DiscoveryMethod   `json:"strategies_degraded"`
	Strategies         []analyzer.StrategyStatus `json:"strategies"`
	LookupTables       []analyzer.LookupTable    `json:"lookup_tables,omitempty"`
	Warnings           []string                  `json:"warnings,omitempty"`
}

// Engine 发现引擎：加锁 → 快照 → 策略流水线 → 合并写入 → 过期标记
type Engine struct {
	store     graph.Store
	sources   Sources
	locker    lock.Locker
	pipeline  *analyzer.Pipeline
	publisher events.Publisher
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewEngine 创建引擎
func NewEngine(store graph.Store, sources Sources, locker lock.Locker, publisher events.Publisher, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.UpsertWorkers <= 0 {
		opts.UpsertWorkers = 4
	}
	return &Engine{
		store:     store,
		sources:   sources,
		locker:    locker,
		pipeline:  analyzer.NewPipeline(logger.Named("pipeline")),
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run 执行一次发现运行
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	log := e.logger.With(zap.String("data_source", req.DataSourceID))

	release, err := e.acquire(ctx, req)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			log.Info("discovery rejected, run already in progress")
			return nil, fmt.Errorf("%w: %s", ErrDiscoveryInProgress, req.DataSourceID)
		}
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	provider, err := e.sources.Provider(req.DataSourceID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:        uuid.NewString(),
		DataSourceID: req.DataSourceID,
		StartedAt:    e.now(),
	}
	log = log.With(zap.String("run_id", sum.RunID))
	log.Info("discovery started")

	snap, err := provider.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("metadata unavailable", zap.Error(err))
		e.publish(ctx, log, events.Event{
			Type:         events.TypeDiscoveryFailed,
			DataSourceID: req.DataSourceID,
			RunID:        sum.RunID,
			Data:         map[string]string{"error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataUnavailable, req.DataSourceID, err)
	}
	snap.DataSourceID = req.DataSourceID
	snap.Normalize()
	sum.Warnings = snap.Warnings
	for _, w := range snap.Warnings {
		log.Warn("snapshot warning", zap.String("warning", w))
	}

	if sum.SnapshotHash, err = Fingerprint(snap); err != nil {
		return nil, err
	}
	nodes := NodesFromSnapshot(snap, sum.StartedAt)
	for _, n := range nodes {
		switch n.Kind {
		case graph.NodeKindTable:
			sum.Tables++
		case graph.NodeKindColumn:
			sum.Columns++
		}
	}
	if err := e.store.UpsertNodes(ctx, nodes); err != nil {
		return nil, fmt.Errorf("store nodes: %w", err)
	}

	cfg := e.opts.RunConfig
	if req.Config != nil {
		cfg = *req.Config
	}
	res, err := e.pipeline.Run(ctx, snap, cfg)
	if err != nil {
		return nil, err
	}
	sum.Strategies = res.Statuses
	sum.StrategiesDegraded = res.Degraded()
	sum.Candidates = len(res.Candidates)
	sum.LookupTables = res.LookupTables

	edges := Reconcile(req.DataSourceID, res.Candidates)
	if err := e.persist(ctx, edges, sum); err != nil {
		return nil, err
	}

	keep := make(map[graph.EdgeKey]bool, len(edges))
	for _, edge := range edges {
		keep[edge.Key()] = true
	}
	if sum.EdgesMarkedStale, err = e.store.MarkStale(ctx, req.DataSourceID, keep, e.now()); err != nil {
		return nil, fmt.Errorf("mark stale edges: %w", err)
	}
	sum.FinishedAt = e.now()

	log.Info("discovery finished",
		zap.String("snapshot", sum.SnapshotHash),
		zap.Int("candidates", sum.Candidates),
		zap.Int("created", sum.EdgesCreated),
		zap.Int("updated", sum.EdgesUpdated),
		zap.Int("confirmed", sum.EdgesConfirmed),
		zap.Int("stale", sum.EdgesMarkedStale),
		zap.Any("degraded", sum.StrategiesDegraded),
		zap.Duration("duration", sum.FinishedAt.Sub(sum.StartedAt)))

	e.publish(ctx, log, events.Event{
		Type:         events.TypeDiscoveryCompleted,
		DataSourceID: req.DataSourceID,
		RunID:        sum.RunID,
		Data:         sum,
	})
	return sum, nil
}

func (e *Engine) acquire(ctx context.Context, req RunRequest) (lock.Release, error) {
	if req.Wait || e.opts.WaitForLock {
		return lock.Acquire(ctx, e.locker, req.DataSourceID, e.opts.LockPollInterval)
	}
	return e.locker.TryAcquire(ctx, req.DataSourceID)
}

// persist 并发写入，同一键的写入串行
func (e *Engine) persist(ctx context.Context, edges []*graph.Edge, sum *Summary) error {
	var (
		mu    sync.Mutex
		locks keyedMutex
		now   = e.now()
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.UpsertWorkers)
	for _, edge := range edges {
		edge := edge
		g.Go(func() error {
			unlock := locks.lock(edge.Key())
			res, err := e.store.UpsertEdge(ctx, edge, now)
			unlock()
			if err != nil {
				return fmt.Errorf("upsert edge %s: %w", edge.Key(), err)
			}
			mu.Lock()
			switch res {
			case graph.UpsertCreated:
				sum.EdgesCreated++
			case graph.UpsertUpgraded, graph.UpsertRevived:
				sum.EdgesUpdated++
			default:
				sum.EdgesConfirmed++
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Invalidate 人工作废一条边
func (e *Engine) Invalidate(ctx context.Context, edgeID string) error {
	edge, err := e.store.GetEdge(ctx, edgeID)
	if err != nil {
		return err
	}
	if err := e.store.InvalidateEdge(ctx, edgeID); err != nil {
		return err
	}
	log := e.logger.With(zap.String("data_source", edge.DataSourceID), zap.String("edge_id", edgeID))
	log.Info("edge invalidated")
	e.publish(ctx, log, events.Event{
		Type:         events.TypeEdgeInvalidated,
		DataSourceID: edge.DataSourceID,
		Data:         map[string]string{"edge_id": edgeID},
	})
	return nil
}

func (e *Engine) publish(ctx context.Context, log *zap.Logger, ev events.Event) {
	ev.At = e.now()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.Warn("failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}

const keyStripes = 64

// keyedMutex 按键分段加锁
type keyedMutex struct {
	once    sync.Once
	seed    maphash.Seed
	stripes [keyStripes]sync.Mutex
}

func (k *keyedMutex) lock(key graph.EdgeKey) func() {
	k.once.Do(func() { k.seed = maphash.MakeSeed() })
	i := maphash.String(k.seed, key.String()) % keyStripes
	k.stripes[i].Lock()
	return k.stripes[i].Unlock
}
