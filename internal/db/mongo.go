package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CursorParams drives keyset pagination over a collection. After is the
// opaque cursor returned by a previous page; empty means "newest page".
type CursorParams struct {
	After    string
	PageSize int64
	SortBy   string
	SortDesc bool
}

// CursorPage holds one page of results plus the cursor for the next
// (older) page. NextCursor is empty at end of history.
type CursorPage[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Repository provides generic CRUD operations for a MongoDB collection.
type Repository[T any] struct {
	collection *mongo.Collection
}

// NewRepository creates a repository bound to one collection.
func NewRepository[T any](db *mongo.Database, collectionName string) *Repository[T] {
	return &Repository[T]{
		collection: db.Collection(collectionName),
	}
}

func OpenConnection(uri string, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err = client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	return client.Database(database), nil
}

// Create inserts a new document.
func (r *Repository[T]) Create(ctx context.Context, document T) (*mongo.InsertOneResult, error) {
	return r.collection.InsertOne(ctx, document)
}

// FindByID finds a document by its ObjectID hex.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var result T
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FindOne finds a single document matching the filter.
func (r *Repository[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	var result T
	err := r.collection.FindOne(ctx, filter).Decode(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FindAll finds all documents matching the filter, optionally sorted.
func (r *Repository[T]) FindAll(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := r.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []T
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// FindWithCursor pages through documents by _id keyset. The sort runs on
// SortBy (default _id); the cursor itself is always the last document's
// _id, so retrying the same cursor yields the same page.
func (r *Repository[T]) FindWithCursor(ctx context.Context, filter bson.M, params CursorParams) (*CursorPage[T], error) {
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	sortBy := params.SortBy
	if sortBy == "" {
		sortBy = "_id"
	}
	order := 1
	if params.SortDesc {
		order = -1
	}

	if params.After != "" {
		afterID, err := primitive.ObjectIDFromHex(params.After)
		if err != nil {
			return nil, err
		}
		op := "$gt"
		if params.SortDesc {
			op = "$lt"
		}
		filter = merge(filter, bson.M{"_id": bson.M{op: afterID}})
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortBy, Value: order}}).
		SetLimit(params.PageSize)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raw []bson.Raw
	page := &CursorPage[T]{}
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		page.Data = append(page.Data, doc)
		raw = append(raw, append(bson.Raw{}, cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	// A full page may have more behind it; a short page is the end.
	if int64(len(page.Data)) == params.PageSize && len(raw) > 0 {
		if id, ok := raw[len(raw)-1].Lookup("_id").ObjectIDOK(); ok {
			page.NextCursor = id.Hex()
		}
	}
	return page, nil
}

// UpdateOne applies an update to the first document matching the filter.
func (r *Repository[T]) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (*mongo.UpdateResult, error) {
	return r.collection.UpdateOne(ctx, filter, update)
}

// Count returns the number of documents matching the filter.
func (r *Repository[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	return r.collection.CountDocuments(ctx, filter)
}

// Exists reports whether any document matches the filter.
func (r *Repository[T]) Exists(ctx context.Context, filter bson.M) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func merge(base bson.M, extra bson.M) bson.M {
	out := bson.M{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
