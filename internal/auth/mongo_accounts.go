package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"secure-notes/internal/storage"
	"secure-notes/internal/wire"
)

type MongoAccountStore struct {
	cli  *mongo.Client
	coll *mongo.Collection
}

type accountDoc struct {
	Username string          `bson:"username"`
	AuthKey  []byte          `bson:"auth_key"`
	Record   wire.UserRecord `bson:"record"`
	Created  time.Time       `bson:"created"`
}

func NewMongoAccountStore(ctx context.Context, uri, db, coll string) (*MongoAccountStore, error) {
	cli, err := storage.Connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	c := cli.Database(db).Collection(coll)

	_, _ = c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &MongoAccountStore{cli: cli, coll: c}, nil
}

// Add inserts a new account. Returns ErrAccountExists on a duplicate username.
func (s *MongoAccountStore) Add(ctx context.Context, a *Account) error {
	_, err := s.coll.InsertOne(ctx, accountDoc{
		Username: a.Username,
		AuthKey:  a.AuthKey,
		Record:   a.Record,
		Created:  a.Created,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrAccountExists
	}
	return err
}

func (s *MongoAccountStore) Find(ctx context.Context, username string) (*Account, error) {
	var doc accountDoc
	err := s.coll.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Account{
		Username: doc.Username,
		AuthKey:  doc.AuthKey,
		Record:   doc.Record,
		Created:  doc.Created,
	}, nil
}

// Update replaces the stored key material and record for an account.
func (s *MongoAccountStore) Update(ctx context.Context, a *Account) error {
	res, err := s.coll.UpdateOne(
		ctx,
		bson.M{"username": a.Username},
		bson.M{"$set": bson.M{"auth_key": a.AuthKey, "record": a.Record}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *MongoAccountStore) Close(ctx context.Context) error {
	return s.cli.Disconnect(ctx)
}
