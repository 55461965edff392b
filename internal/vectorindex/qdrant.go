package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docchat-go/internal/rag"
)

// qdrantService names Qdrant in upstream errors.
const qdrantService = "qdrant"

// defaultUpsertBatch is the number of points sent per Upsert call.
const defaultUpsertBatch = 256

// Payload keys stored with every point.
const (
	payloadText     = "text"
	payloadSource   = "source"
	payloadPage     = "page"
	payloadFileType = "file_type"
	payloadOffset   = "offset"
	payloadIndex    = "chunk_index"
	payloadChunkID  = "chunk_id"
	payloadOrd      = "ord"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the alias that always points at the most recent build.
	// Each build writes a fresh "<Collection>-<build id>" collection.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// UpsertBatch is the number of points per Upsert call (default 256).
	UpsertBatch int
}

// QdrantBuilder builds Qdrant-backed indexes behind a stable alias. A build
// never touches the collection currently served by the alias: it writes a new
// collection, then repoints the alias atomically.
type QdrantBuilder struct {
	// client is the shared Qdrant gRPC client.
	client *qdrant.Client

	// alias is the collection alias this builder maintains.
	alias string

	// batch is the number of points per Upsert call.
	batch int

	// log receives build and cleanup events.
	log *slog.Logger

	// live tracks collections held by open indexes of this process. It is
	// shared by every builder derived with ForAlias.
	live *liveSet
}

// liveSet is a mutex-guarded set of collection names.
type liveSet struct {
	mu    sync.Mutex
	names map[string]bool
}

func (s *liveSet) add(name string) {
	s.mu.Lock()
	s.names[name] = true
	s.mu.Unlock()
}

func (s *liveSet) remove(name string) {
	s.mu.Lock()
	delete(s.names, name)
	s.mu.Unlock()
}

func (s *liveSet) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[name]
}

// NewQdrantBuilder connects to Qdrant and returns a builder for cfg.Collection.
func NewQdrantBuilder(cfg *QdrantConfig, log *slog.Logger) (*QdrantBuilder, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection alias must not be empty")
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = defaultUpsertBatch
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantBuilder{
		client: client,
		alias:  cfg.Collection,
		batch:  cfg.UpsertBatch,
		log:    log,
		live:   &liveSet{names: make(map[string]bool)},
	}, nil
}

// ForAlias returns a builder sharing this builder's connection that maintains
// a different alias. The server uses one alias per session.
func (b *QdrantBuilder) ForAlias(alias string) *QdrantBuilder {
	cp := *b
	cp.alias = alias
	return &cp
}

// Alias returns the alias this builder maintains.
func (b *QdrantBuilder) Alias() string { return b.alias }

// Ping calls the Qdrant HealthCheck RPC.
func (b *QdrantBuilder) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection. Indexes built by b become
// unusable afterwards.
func (b *QdrantBuilder) Close() error {
	return b.client.Close()
}

// Build writes chunks and vectors into a new collection and repoints the
// alias to it. The previously aliased collection is deleted here when no open
// index of this process still serves it; otherwise that index's Close
// deletes it.
func (b *QdrantBuilder) Build(ctx context.Context, chunks []rag.Chunk, vectors [][]float32) (rag.Index, error) {
	dim, err := validateBuild(chunks, vectors)
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}

	name := b.alias + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, rag.Upstream(qdrantService, fmt.Errorf("create collection %q: %w", name, err))
	}

	if err := b.upsert(ctx, name, chunks, vectors); err != nil {
		b.drop(name)
		return nil, err
	}

	previous, err := b.aliasTarget(ctx)
	if err != nil {
		b.drop(name)
		return nil, err
	}

	ops := []*qdrant.AliasOperations{}
	if previous != "" {
		ops = append(ops, qdrant.NewAliasDelete(b.alias))
	}
	ops = append(ops, qdrant.NewAliasCreate(b.alias, name))
	if err := b.client.UpdateAliases(ctx, ops); err != nil {
		b.drop(name)
		return nil, rag.Upstream(qdrantService, fmt.Errorf("repoint alias %q: %w", b.alias, err))
	}

	if previous != "" && previous != name && !b.live.has(previous) {
		b.drop(previous)
	}

	b.live.add(name)
	b.log.Info("qdrant: index built",
		slog.String("alias", b.alias),
		slog.String("collection", name),
		slog.Int("points", len(chunks)),
		slog.Int("dimension", dim),
	)
	return &QdrantIndex{client: b.client, collection: name, size: len(chunks), owner: b}, nil
}

// upsert writes points in batches and waits for each batch to be applied.
func (b *QdrantBuilder) upsert(ctx context.Context, collection string, chunks []rag.Chunk, vectors [][]float32) error {
	wait := true
	for start := 0; start < len(chunks); start += b.batch {
		end := min(start+b.batch, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			payload, err := qdrant.TryValueMap(chunkPayload(chunks[i], i))
			if err != nil {
				return fmt.Errorf("qdrant: payload for chunk %d: %w", i, err)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(chunks[i], i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: payload,
			})
		}
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return rag.Upstream(qdrantService, fmt.Errorf("upsert %d-%d: %w", start, end, err))
		}
	}
	return nil
}

// aliasTarget returns the collection the alias points at, or "".
func (b *QdrantBuilder) aliasTarget(ctx context.Context) (string, error) {
	aliases, err := b.client.ListAliases(ctx)
	if err != nil {
		return "", rag.Upstream(qdrantService, fmt.Errorf("list aliases: %w", err))
	}
	for _, a := range aliases {
		if a.GetAliasName() == b.alias {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

// drop deletes collection, logging instead of failing.
func (b *QdrantBuilder) drop(collection string) {
	// A cancelled build still has to clean up.
	if err := b.client.DeleteCollection(context.Background(), collection); err != nil {
		b.log.Warn("qdrant: failed to delete collection",
			slog.String("collection", collection),
			slog.String("error", err.Error()),
		)
	}
}

// Drop removes the alias and the collection it points at.
func (b *QdrantBuilder) Drop(ctx context.Context) error {
	target, err := b.aliasTarget(ctx)
	if err != nil {
		return err
	}
	if target == "" {
		return nil
	}
	if err := b.client.DeleteAlias(ctx, b.alias); err != nil {
		return rag.Upstream(qdrantService, fmt.Errorf("delete alias %q: %w", b.alias, err))
	}
	if !b.live.has(target) {
		b.drop(target)
	}
	return nil
}

// Open resolves the alias to the collection built by an earlier process.
// A missing alias or empty collection yields rag.ErrEmptyIndex. Closing the
// returned index keeps the collection.
func (b *QdrantBuilder) Open(ctx context.Context) (*QdrantIndex, error) {
	target, err := b.aliasTarget(ctx)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, fmt.Errorf("qdrant: alias %q: %w", b.alias, rag.ErrEmptyIndex)
	}
	exact := true
	n, err := b.client.Count(ctx, &qdrant.CountPoints{CollectionName: target, Exact: &exact})
	if err != nil {
		return nil, rag.Upstream(qdrantService, fmt.Errorf("count %q: %w", target, err))
	}
	if n == 0 {
		return nil, fmt.Errorf("qdrant: collection %q: %w", target, rag.ErrEmptyIndex)
	}
	return &QdrantIndex{client: b.client, collection: target, size: int(n)}, nil
}

// QdrantIndex is a read-only view of one built collection.
type QdrantIndex struct {
	// client is the builder's shared gRPC client.
	client *qdrant.Client
	// collection is the concrete collection name (never the alias).
	collection string
	// size is the number of points in the collection.
	size int
	// owner is the builder that created the collection, nil when opened.
	owner *QdrantBuilder
	// closeOnce guards the collection delete in Close.
	closeOnce sync.Once
}

// Collection returns the concrete collection name.
func (q *QdrantIndex) Collection() string { return q.collection }

// Len returns the number of indexed chunks.
func (q *QdrantIndex) Len() int { return q.size }

// Close deletes the collection if it was built by this process and is no
// longer the alias target. Opened indexes are left untouched.
func (q *QdrantIndex) Close() error {
	if q.owner == nil {
		return nil
	}
	var err error
	q.closeOnce.Do(func() {
		q.owner.live.remove(q.collection)
		target, terr := q.owner.aliasTarget(context.Background())
		if terr != nil {
			err = terr
			return
		}
		if target != q.collection {
			q.owner.drop(q.collection)
		}
	})
	return err
}

// Query asks Qdrant for the nearest points. Similarity mode returns the top k
// directly; MMR mode fetches fetch_k candidates with their vectors and
// selects locally.
func (q *QdrantIndex) Query(ctx context.Context, queryVector []float32, opts rag.QueryOptions) ([]rag.Chunk, error) {
	if q.size == 0 {
		return nil, fmt.Errorf("qdrant: %w", rag.ErrEmptyIndex)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}

	mmr := opts.Mode == rag.ModeMMR
	limit := uint64(opts.K)
	if mmr {
		limit = uint64(opts.FetchK)
	}
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if mmr {
		req.WithVectors = qdrant.NewWithVectors(true)
	}

	results, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, rag.Upstream(qdrantService, fmt.Errorf("query %q: %w", q.collection, err))
	}

	chunks := make([]rag.Chunk, len(results))
	cands := make([]candidate, len(results))
	for i, r := range results {
		chunks[i] = chunkFromPayload(r.GetPayload())
		chunks[i].Score = r.GetScore()
		cands[i] = candidate{
			ord:   int(r.GetPayload()[payloadOrd].GetIntegerValue()),
			score: r.GetScore(),
			vec:   r.GetVectors().GetVector().GetData(),
		}
	}
	byOrd := make(map[int]rag.Chunk, len(chunks))
	for i, c := range cands {
		byOrd[c.ord] = chunks[i]
	}

	sortByScore(cands)
	picked := cands
	if mmr {
		if len(cands) > 0 && len(cands[0].vec) == 0 {
			return nil, rag.Upstream(qdrantService, errors.New("query returned points without vectors"))
		}
		picked = selectMMR(cands, opts.K, opts.Lambda)
	}

	out := make([]rag.Chunk, len(picked))
	for i, c := range picked {
		out[i] = byOrd[c.ord]
	}
	return out, nil
}

// pointID returns the chunk ID when it is a UUID, else a name-based UUID.
func pointID(c rag.Chunk, ord int) string {
	if _, err := uuid.Parse(c.ID); err == nil {
		return c.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s#%d", c.ID, ord)).String()
}

// chunkPayload flattens a chunk into a Qdrant payload.
func chunkPayload(c rag.Chunk, ord int) map[string]any {
	return map[string]any{
		payloadText:     c.Text,
		payloadSource:   c.SourcePath,
		payloadPage:     int64(c.Page),
		payloadFileType: string(c.FileType),
		payloadOffset:   int64(c.Offset),
		payloadIndex:    int64(c.Index),
		payloadChunkID:  c.ID,
		payloadOrd:      int64(ord),
	}
}

// chunkFromPayload reverses chunkPayload.
func chunkFromPayload(p map[string]*qdrant.Value) rag.Chunk {
	return rag.Chunk{
		ID:         p[payloadChunkID].GetStringValue(),
		Text:       p[payloadText].GetStringValue(),
		SourcePath: p[payloadSource].GetStringValue(),
		Page:       int(p[payloadPage].GetIntegerValue()),
		FileType:   rag.FileType(p[payloadFileType].GetStringValue()),
		Offset:     int(p[payloadOffset].GetIntegerValue()),
		Index:      int(p[payloadIndex].GetIntegerValue()),
	}
}
