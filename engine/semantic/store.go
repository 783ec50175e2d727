// Package semantic mirrors the node embeddings of each window into a Qdrant
// collection. Each embedding property is a named vector, and a point is one
// entity in one window.
package semantic

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/WessleyAI/rollwin/engine/algo"
	"github.com/WessleyAI/rollwin/engine/snapshot"
	"github.com/WessleyAI/rollwin/pkg/fn"
)

// Payload keys.
const (
	KeyWindowID   = "window_id"
	KeyEntityID   = "entity_id"
	KeyLabels     = "labels"
	KeyStartYear  = "start_year"
	KeyEndYear    = "end_year"
	KeyGran       = "granularity"
	KeyParamsHash = "params_hash"
)

// EmbeddingProperties are the node columns mirrored when present.
var EmbeddingProperties = []string{algo.FastRP, algo.HashGNN, algo.Node2Vec}

var pointSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/WessleyAI/rollwin/points"))

// PointID is the stable point id of entity in window.
func PointID(windowID, entity string) string {
	return uuid.NewSHA1(pointSpace, []byte(windowID+"|"+entity)).String()
}

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        io.Closer
	points      pointsAPI
	collections collectionsAPI
	collection  string
	ensured     bool

	BatchSize int
	Logger    *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		BatchSize:   256,
		Logger:      slog.Default(),
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with one cosine vector per
// entry of dims if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims map[string]int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	params := make(map[string]*pb.VectorParams, len(dims))
	for name, d := range dims {
		params[name] = &pb.VectorParams{Size: uint64(d), Distance: pb.Distance_Cosine}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{Map: params},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// WriteWindow replaces the points of meta's window with the embeddings of
// nodes and returns how many were upserted. Rows without any embedding are
// left out.
func (v *VectorStore) WriteWindow(ctx context.Context, meta snapshot.Meta, nodes *snapshot.Frame) (int, error) {
	id := meta.Window.ID()
	var props []string
	for _, p := range EmbeddingProperties {
		if nodes != nil && nodes.Column(p) >= 0 {
			props = append(props, p)
		}
	}
	if err := v.DeleteWindow(ctx, id); err != nil {
		return 0, err
	}
	if len(props) == 0 || nodes.Len() == 0 {
		return 0, nil
	}

	var points []*pb.PointStruct
	dims := map[string]int{}
	for i := range nodes.Rows {
		named := map[string]*pb.Vector{}
		for _, p := range props {
			vec, _ := nodes.Value(i, p).([]float64)
			if len(vec) == 0 {
				continue
			}
			data := make([]float32, len(vec))
			for j, x := range vec {
				data[j] = float32(x)
			}
			named[p] = &pb.Vector{Data: data}
			dims[p] = len(vec)
		}
		if len(named) == 0 {
			continue
		}
		entity, _ := nodes.Value(i, snapshot.ColEntityID).(string)
		labels, _ := nodes.Value(i, snapshot.ColLabels).([]string)
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id, entity)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vectors{Vectors: &pb.NamedVectors{Vectors: named}},
			},
			Payload: payload(map[string]any{
				KeyWindowID:   id,
				KeyEntityID:   entity,
				KeyLabels:     labels,
				KeyStartYear:  int64(meta.Window.StartYear()),
				KeyEndYear:    int64(meta.Window.EndYearInclusive()),
				KeyGran:       meta.Window.Granularity.String(),
				KeyParamsHash: meta.ParamsHash,
			}),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}
	if !v.ensured {
		if err := v.EnsureCollection(ctx, dims); err != nil {
			return 0, err
		}
		v.ensured = true
	}

	written := 0
	for _, chunk := range fn.Chunk(points, max(1, v.BatchSize)) {
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           proto.Bool(true),
			Points:         chunk,
		})
		if err != nil {
			return written, fmt.Errorf("semantic: upsert %d points: %w", len(chunk), err)
		}
		written += len(chunk)
	}
	v.Logger.Debug("embeddings mirrored", "window", id, "points", len(points), "vectors", props)
	return len(points), nil
}

// DeleteWindow removes all points of a window.
func (v *VectorStore) DeleteWindow(ctx context.Context, windowID string) error {
	if !v.ensured {
		// Nothing to delete before the collection exists.
		list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
		if err != nil {
			return fmt.Errorf("semantic: list collections: %w", err)
		}
		found := false
		for _, c := range list.GetCollections() {
			found = found || c.GetName() == v.collection
		}
		if !found {
			return nil
		}
		v.ensured = true
	}
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           proto.Bool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch(KeyWindowID, windowID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete window %s: %w", windowID, err)
	}
	return nil
}

func payload(in map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(in))
	for k, val := range in {
		out[k] = toValue(val)
	}
	return out
}

func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, s := range tv {
			vals[i] = toValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
