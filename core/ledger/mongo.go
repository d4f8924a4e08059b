package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/user"
)

// MongoOptions configures the document-store backend.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type userDoc struct {
	SenderID          int64     `bson:"_id"`
	DisplayName       string    `bson:"display_name"`
	Username          string    `bson:"username"`
	Locale            string    `bson:"locale"`
	IsBot             bool      `bson:"is_bot"`
	PhoneNumber       string    `bson:"phone_number,omitempty"`
	FullName          string    `bson:"full_name,omitempty"`
	Role              string    `bson:"role,omitempty"`
	RegistrationState string    `bson:"registration_state"`
	IsRegistered      bool      `bson:"is_registered"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func (d userDoc) record() (user.Record, error) {
	st, err := user.ParseState(d.RegistrationState)
	if err != nil {
		return user.Record{}, err
	}
	return user.Record{
		SenderID:     user.SenderID(d.SenderID),
		DisplayName:  d.DisplayName,
		Username:     d.Username,
		Locale:       d.Locale,
		IsBot:        d.IsBot,
		PhoneNumber:  d.PhoneNumber,
		FullName:     d.FullName,
		Role:         user.Role(d.Role),
		State:        st,
		IsRegistered: d.IsRegistered,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

type mongoLedger struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// ConnectMongo dials MongoDB, verifies connectivity and prepares indexes.
func ConnectMongo(ctx context.Context, opts MongoOptions) (Ledger, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Collection == "" {
		opts.Collection = "users"
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI).SetTimeout(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error(ctx, "db", "mongo.ping",
			slog.String("status", "fail"),
			slog.String("db", opts.Database),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "registration_state", Value: 1}},
		Options: options.Index().SetName("registration_state_idx"),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}

	logger.Info(ctx, "db", "mongo.connect",
		slog.String("status", "ok"),
		slog.String("db", opts.Database),
		slog.String("collection", opts.Collection),
		slog.Duration("duration", logger.Took(start)),
	)
	return &mongoLedger{client: client, coll: coll, now: time.Now}, nil
}

// GetOrCreate upserts on _id with $setOnInsert, so the unique primary key arbitrates concurrent first contacts.
func (m *mongoLedger) GetOrCreate(ctx context.Context, id user.SenderID, seed user.Identity) (user.Record, bool, error) {
	at := m.now().UTC()
	insert := bson.M{
		"display_name":       seed.DisplayName,
		"username":           seed.Username,
		"locale":             seed.Locale,
		"is_bot":             seed.IsBot,
		"registration_state": string(user.StateNotStarted),
		"is_registered":      false,
		"created_at":         at,
		"updated_at":         at,
	}
	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": int64(id)},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true),
	)
	created := false
	switch {
	case err == nil:
		created = res.UpsertedCount == 1
	case mongo.IsDuplicateKeyError(err):
		// Lost the upsert race; the winner's document is read below.
	default:
		return user.Record{}, false, unavailable("ledger.get_or_create", err)
	}

	rec, err := m.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return user.Record{}, false, unavailable("ledger.get_or_create", err)
	}
	return rec, created, err
}

// ApplyTransition uses findAndModify filtered on the expected state.
func (m *mongoLedger) ApplyTransition(ctx context.Context, id user.SenderID, expected user.State, mut user.Mutation) (user.Record, error) {
	if err := checkMutation(expected, mut); err != nil {
		return user.Record{}, err
	}
	set := bson.M{
		"registration_state": string(mut.To),
		"is_registered":      mut.To == user.StateCompleted,
		"updated_at":         mut.At.UTC(),
	}
	if mut.PhoneNumber != nil {
		set["phone_number"] = *mut.PhoneNumber
	}
	if mut.FullName != nil {
		set["full_name"] = *mut.FullName
	}
	if mut.Role != nil {
		set["role"] = string(*mut.Role)
	}

	var doc userDoc
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": int64(id), "registration_state": string(expected)},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.record()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return user.Record{}, unavailable("ledger.apply_transition", err)
	}

	n, err := m.coll.CountDocuments(ctx, bson.M{"_id": int64(id)}, options.Count().SetLimit(1))
	if err != nil {
		return user.Record{}, unavailable("ledger.apply_transition", err)
	}
	if n == 0 {
		return user.Record{}, ErrNotFound
	}
	return user.Record{}, ErrConflict
}

func (m *mongoLedger) Get(ctx context.Context, id user.SenderID) (user.Record, error) {
	var doc userDoc
	if err := m.coll.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.Record{}, ErrNotFound
		}
		return user.Record{}, unavailable("ledger.get", err)
	}
	return doc.record()
}

func (m *mongoLedger) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ledger.ping", err)
	}
	return nil
}

func (m *mongoLedger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
