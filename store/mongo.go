package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection = "documents"
	versionsCollection  = "versions"
)

// MongoStore keeps documents and versions in the collections used by the
// document service.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

type mongoDocument struct {
	ID        any       `bson:"_id"`
	Title     string    `bson:"title"`
	Content   string    `bson:"content"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type mongoVersion struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	DocumentID any                `bson:"documentId"`
	Content    string             `bson:"content"`
	CreatedBy  any                `bson:"createdBy"`
	CreatedAt  time.Time          `bson:"createdAt"`
	Name       string             `bson:"name"`
}

// NewMongoStore connects to uri and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	glog.Infof("[store]connected to mongo database %s", database)
	return &MongoStore{client: client, database: client.Database(database)}, nil
}

// objectID maps hex ids onto ObjectIDs and leaves other ids as strings.
func objectID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (s *MongoStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc mongoDocument
	err := s.database.Collection(documentsCollection).
		FindOne(ctx, bson.M{"_id": objectID(id)}).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	found := doc.toDocument()
	return &found, nil
}

func (d mongoDocument) toDocument() Document {
	return Document{
		ID:        idString(d.ID),
		Title:     d.Title,
		Content:   d.Content,
		UpdatedAt: d.UpdatedAt,
	}
}

func (v mongoVersion) toVersion() Version {
	return Version{
		ID:         v.ID.Hex(),
		DocumentID: idString(v.DocumentID),
		Content:    v.Content,
		CreatedBy:  idString(v.CreatedBy),
		Label:      v.Name,
		CreatedAt:  v.CreatedAt,
	}
}

func (s *MongoStore) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	record := mongoDocument{
		ID:        primitive.NewObjectID(),
		Title:     doc.Title,
		Content:   doc.Content,
		UpdatedAt: time.Now(),
	}
	if doc.ID != "" {
		record.ID = objectID(doc.ID)
	}
	if _, err := s.database.Collection(documentsCollection).InsertOne(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	created := record.toDocument()
	return &created, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := s.database.Collection(documentsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var record mongoDocument
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, record.toDocument())
	}
	return docs, cursor.Err()
}

func (s *MongoStore) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (*Document, error) {
	set := bson.M{"updatedAt": time.Now()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}

	var record mongoDocument
	err := s.database.Collection(documentsCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": objectID(id)}, bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update document %s: %w", id, err)
	}
	updated := record.toDocument()
	return &updated, nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.database.Collection(documentsCollection).DeleteOne(ctx, bson.M{"_id": objectID(id)}); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) CreateVersion(ctx context.Context, v Version) (*Version, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	record := mongoVersion{
		DocumentID: objectID(v.DocumentID),
		Content:    v.Content,
		CreatedAt:  v.CreatedAt,
		Name:       v.Label,
	}
	if v.CreatedBy != "" {
		record.CreatedBy = objectID(v.CreatedBy)
	}

	res, err := s.database.Collection(versionsCollection).InsertOne(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version for %s: %w", v.DocumentID, err)
	}
	v.ID = idString(res.InsertedID)
	return &v, nil
}

func (s *MongoStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrVersionNotFound
	}
	var record mongoVersion
	err = s.database.Collection(versionsCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to load version %s: %w", id, err)
	}
	v := record.toVersion()
	return &v, nil
}

func (s *MongoStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.database.Collection(versionsCollection).
		Find(ctx, bson.M{"documentId": objectID(documentID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", documentID, err)
	}
	defer cursor.Close(ctx)

	var versions []Version
	for cursor.Next(ctx) {
		var record mongoVersion
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode version: %w", err)
		}
		versions = append(versions, record.toVersion())
	}
	return versions, cursor.Err()
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
