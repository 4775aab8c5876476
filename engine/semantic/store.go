package semantic

import (
	"context"
	"fmt"
	"io"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// DefaultCollection is the collection observations are archived in.
const DefaultCollection = "van_damage"

// pointsClient is the subset of pb.PointsClient the archive calls.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsClient is the subset of pb.CollectionsClient the archive calls.
type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Archive is the sole owner of Qdrant operations.
type Archive struct {
	conn        io.Closer
	points      pointsClient
	collections collectionsClient
	collection  string
}

// Open creates an Archive connected to Qdrant at the given gRPC address.
func Open(addr, collection string) (*Archive, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	a := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	a.conn = conn
	return a, nil
}

// NewWithClients creates an Archive on existing clients.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *Archive {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Archive{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if Open created one.
func (a *Archive) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (a *Archive) EnsureCollection(ctx context.Context) error {
	list, err := a.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == a.collection {
			return nil
		}
	}

	_, err = a.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(Dims),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", a.collection, err)
	}
	return nil
}

// Put archives one accepted observation. VehicleKey and Fingerprint must be set.
func (a *Archive) Put(ctx context.Context, obs domain.Observation) error {
	if obs.VehicleKey == "" || obs.Fingerprint == "" {
		return fmt.Errorf("semantic: put: %w", domain.NewValidationError("observation", obs.Fingerprint, domain.ErrMissingIdentifier))
	}
	point := &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(obs.VehicleKey, obs.Fingerprint)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: Signature(obs)},
			},
		},
		Payload: map[string]*pb.Value{
			"vehicle_key": strValue(obs.VehicleKey.String()),
			"key_fold":    strValue(obs.VehicleKey.Fold()),
			"fingerprint": strValue(obs.Fingerprint),
			"severity":    {Kind: &pb.Value_IntegerValue{IntegerValue: int64(domain.ClampSeverity(obs.Severity))}},
			"side":        strValue(string(obs.Side)),
			"description": strValue(obs.Description),
			"condition":   strValue(string(domain.ConditionOf(obs.Severity))),
			"timestamp":   strValue(obs.Timestamp.UTC().Format(time.RFC3339)),
		},
	}

	wait := true
	_, err := a.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: a.collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %s: %w", obs.VehicleKey, err)
	}
	return nil
}

// DeleteVehicle removes every archived observation of key.
func (a *Archive) DeleteVehicle(ctx context.Context, key domain.CanonicalKey) error {
	wait := true
	_, err := a.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: a.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("key_fold", key.Fold())}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %s: %w", key, err)
	}
	return nil
}

// Similar returns up to k archived observations closest to obs, excluding
// those of obs's own van when its key is set. Closest first.
func (a *Archive) Similar(ctx context.Context, obs domain.Observation, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	req := &pb.SearchPoints{
		CollectionName: a.collection,
		Vector:         Signature(obs),
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if obs.VehicleKey != "" {
		req.Filter = &pb.Filter{MustNot: []*pb.Condition{fieldMatch("key_fold", obs.VehicleKey.Fold())}}
	}

	resp, err := a.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := r.GetPayload()
		m := Match{
			ID:          r.GetId().GetUuid(),
			VehicleKey:  domain.CanonicalKey(p["vehicle_key"].GetStringValue()),
			Fingerprint: p["fingerprint"].GetStringValue(),
			Severity:    int(p["severity"].GetIntegerValue()),
			Side:        domain.ParseSide(p["side"].GetStringValue()),
			Description: p["description"].GetStringValue(),
			Distance:    r.GetScore(),
		}
		if ts, err := time.Parse(time.RFC3339, p["timestamp"].GetStringValue()); err == nil {
			m.Timestamp = ts
		}
		out[i] = m
	}
	return out, nil
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
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
