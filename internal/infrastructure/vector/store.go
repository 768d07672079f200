package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kbchat/backend/internal/domain/retrieval"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/qdrant/go-client/qdrant"
)

// ErrUnavailable 向量库不可用
var ErrUnavailable = errors.New("vector store unavailable")

// Match 单个 payload 等值匹配条件
type Match struct {
	Key   string
	Value string
}

// Filter 检索过滤条件，Must 为与关系，Should 为或关系
type Filter struct {
	Must   []Match
	Should []Match
}

// SearchOptions 向量检索参数
type SearchOptions struct {
	Limit          int
	ScoreThreshold float32
	Filter         *Filter
}

// Point 待写入的向量点
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Store Qdrant 向量库访问层
type Store struct {
	client *qdrant.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewStore 创建向量库访问层并确保集合存在
func NewStore(cfg *config.Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Qdrant.Host,
		Port: cfg.Qdrant.GRPCPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	store := &Store{
		client: client,
		cfg:    cfg,
		logger: log.NewModuleLogger("vector", "store"),
	}

	return store, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// EnsureCollections 确保知识库与会话记忆集合存在
func (s *Store) EnsureCollections(ctx context.Context) error {
	collections := []string{s.cfg.Qdrant.KBCollection, s.cfg.Qdrant.MemoryCollection}

	existing, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to list collections: %v", ErrUnavailable, err)
	}

	existingMap := make(map[string]bool)
	for _, name := range existing {
		existingMap[name] = true
	}

	for _, name := range collections {
		if existingMap[name] {
			continue
		}

		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.Qdrant.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}

		s.logger.Info("Created collection", "collection", name)
	}

	return nil
}

// Search 向量检索，按相似度降序返回命中
func (s *Store) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]retrieval.Hit, error) {
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}

	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(opts.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.ScoreThreshold > 0 {
		threshold := opts.ScoreThreshold
		query.ScoreThreshold = &threshold
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		s.logger.Error("Failed to query qdrant", "collection", collection, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hits := make([]retrieval.Hit, 0, len(points))
	for _, point := range points {
		hit := payloadToHit(point.GetPayload())
		hit.PointID = pointIDToString(point.GetId())
		hit.Score = point.GetScore()
		hit.HasScore = true
		hits = append(hits, hit)
	}

	return hits, nil
}

// Scroll 按过滤条件遍历集合，不计算相似度
// 用于检索兜底：向量检索无命中时回退读取匹配过滤条件的点
func (s *Store) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]retrieval.Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	scrollLimit := uint32(limit)

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		s.logger.Error("Failed to scroll qdrant", "collection", collection, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hits := make([]retrieval.Hit, 0, len(points))
	for _, point := range points {
		hit := payloadToHit(point.GetPayload())
		hit.PointID = pointIDToString(point.GetId())
		hits = append(hits, hit)
	}

	return hits, nil
}

// Upsert 批量写入向量点
func (s *Store) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		s.logger.Error("Failed to upsert points", "collection", collection, "count", len(points), "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// DeleteByIDs 按 point ID 删除
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete points: %v", ErrUnavailable, err)
	}

	return nil
}

// DeleteByFilter 按过滤条件删除
func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter *Filter) error {
	qdrantFilter := buildFilter(filter)
	if qdrantFilter == nil {
		return fmt.Errorf("delete filter cannot be empty")
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: qdrantFilter,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete by filter: %v", ErrUnavailable, err)
	}

	return nil
}

// buildFilter 将过滤条件转换为 qdrant Filter，空条件返回 nil
func buildFilter(filter *Filter) *qdrant.Filter {
	if filter == nil || (len(filter.Must) == 0 && len(filter.Should) == 0) {
		return nil
	}

	result := &qdrant.Filter{}
	for _, m := range filter.Must {
		result.Must = append(result.Must, qdrant.NewMatch(m.Key, m.Value))
	}
	for _, m := range filter.Should {
		result.Should = append(result.Should, qdrant.NewMatch(m.Key, m.Value))
	}

	return result
}
