package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoRemoteStore 远端 MongoDB 实现：每张表一个 collection，_id = id
type MongoRemoteStore struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoRemoteStore 创建远端存储
func NewMongoRemoteStore(db *mongo.Database, logger *zap.Logger) *MongoRemoteStore {
	return &MongoRemoteStore{db: db, logger: logger}
}

var _ RemoteStore = (*MongoRemoteStore)(nil)

// ConnectMongo 连接 MongoDB
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}
	return client.Database(database), nil
}

func (s *MongoRemoteStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	return nil
}

func (s *MongoRemoteStore) SelectAll(ctx context.Context, table string) ([]Row, error) {
	schema, err := SchemaFor(table)
	if err != nil {
		return nil, err
	}

	cur, err := s.db.Collection(schema.Name).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", table, err)
	}

	out := make([]Row, 0, len(docs))
	for _, doc := range docs {
		row := Row{}
		for _, c := range schema.Columns {
			row[c.Name] = normalizeBSON(doc[c.Name])
		}
		if id, ok := doc["_id"].(string); ok {
			row["id"] = id
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *MongoRemoteStore) Upsert(ctx context.Context, table string, row Row) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	id := asString(row["id"])
	if id == "" {
		return fmt.Errorf("upsert %s: row missing id", table)
	}

	doc := bson.M{"_id": id}
	for _, c := range schema.Columns {
		if c.Name == "id" {
			continue
		}
		v := row[c.Name]
		if c.Kind == KindTime && v != nil {
			t, err := asTime(v)
			if err != nil {
				return fmt.Errorf("upsert %s.%s: %w", table, c.Name, err)
			}
			v = t
		}
		doc[c.Name] = v
	}

	_, err = s.db.Collection(schema.Name).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

func (s *MongoRemoteStore) DeleteByID(ctx context.Context, table, id string) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(schema.Name).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (s *MongoRemoteStore) DeleteWhere(ctx context.Context, table, column, value string) error {
	schema, err := SchemaFor(table)
	if err != nil {
		return err
	}
	if !schema.HasColumn(column) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
	}
	res, err := s.db.Collection(schema.Name).DeleteMany(ctx, bson.M{column: value})
	if err != nil {
		return fmt.Errorf("failed to delete from %s by %s: %w", table, column, err)
	}
	s.logger.Debug("Remote documents deleted",
		zap.String("table", table),
		zap.String("column", column),
		zap.Int64("documents", res.DeletedCount),
	)
	return nil
}

// normalizeBSON BSON 解码值 -> Row 约定的值类型
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case int32:
		return int64(val)
	case bson.M:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = normalizeBSON(x)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalizeBSON(x)
		}
		return out
	default:
		return v
	}
}
