package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/m3rciful/onboardbot/core/user"
)

func TestUserDocRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(bson.M{
		"_id":                int64(1001),
		"display_name":       "Jordan",
		"locale":             "en",
		"phone_number":       "+14155550123",
		"role":               "investor",
		"registration_state": "completed",
		"is_registered":      true,
		"created_at":         at,
		"updated_at":         at.Add(time.Minute),
	})
	require.NoError(t, err)

	var doc userDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	rec, err := doc.record()
	require.NoError(t, err)
	require.Equal(t, user.SenderID(1001), rec.SenderID)
	require.Equal(t, user.StateCompleted, rec.State)
	require.Equal(t, user.RoleInvestor, rec.Role)
	require.True(t, rec.IsRegistered)
	require.Empty(t, rec.FullName)
	require.Equal(t, at.Add(time.Minute), rec.UpdatedAt)
}

func TestUserDocRejectsUnknownState(t *testing.T) {
	_, err := userDoc{SenderID: 1, RegistrationState: "paused"}.record()
	require.Error(t, err)
}

func TestUserDocOmitsUnsetAnswers(t *testing.T) {
	raw, err := bson.Marshal(userDoc{SenderID: 7, RegistrationState: string(user.StateNotStarted)})
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	require.NotContains(t, m, "phone_number")
	require.NotContains(t, m, "full_name")
	require.NotContains(t, m, "role")
	require.Equal(t, "not_started", m["registration_state"])
}

func TestConnectMongoUnreachable(t *testing.T) {
	_, err := ConnectMongo(context.Background(), MongoOptions{
		URI:      "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200",
		Database: "onboard",
		Timeout:  300 * time.Millisecond,
	})
	require.ErrorContains(t, err, "mongo")
}

var mongoNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mockLedger(mt *mtest.T) (*mongoLedger, string) {
	ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
	return &mongoLedger{client: mt.Client, coll: mt.Coll, now: func() time.Time { return mongoNow }}, ns
}

func userBSON(id int64, state user.State) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "display_name", Value: "Jordan"},
		{Key: "locale", Value: "en"},
		{Key: "registration_state", Value: string(state)},
		{Key: "is_registered", Value: state == user.StateCompleted},
		{Key: "created_at", Value: mongoNow},
		{Key: "updated_at", Value: mongoNow},
	}
}

func TestMongoGetOrCreate(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	seed := user.Identity{DisplayName: "Jordan", Locale: "en"}

	mt.Run("created", func(mt *mtest.T) {
		l, ns := mockLedger(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(
				bson.E{Key: "n", Value: 1},
				bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: int64(1001)}}}},
			),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userBSON(1001, user.StateNotStarted)),
		)
		rec, created, err := l.GetOrCreate(context.Background(), 1001, seed)
		require.NoError(mt, err)
		require.True(mt, created)
		require.Equal(mt, user.StateNotStarted, rec.State)

		upsert := mt.GetStartedEvent()
		require.Equal(mt, "update", upsert.CommandName)
		require.Contains(mt, upsert.Command.String(), "$setOnInsert")
	})

	mt.Run("existing", func(mt *mtest.T) {
		l, ns := mockLedger(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userBSON(1001, user.StatePhoneEntered)),
		)
		rec, created, err := l.GetOrCreate(context.Background(), 1001, seed)
		require.NoError(mt, err)
		require.False(mt, created)
		require.Equal(mt, user.StatePhoneEntered, rec.State)
	})

	mt.Run("duplicate key race", func(mt *mtest.T) {
		l, ns := mockLedger(mt)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userBSON(1001, user.StateNotStarted)),
		)
		rec, created, err := l.GetOrCreate(context.Background(), 1001, seed)
		require.NoError(mt, err)
		require.False(mt, created)
		require.Equal(mt, user.SenderID(1001), rec.SenderID)
	})

	mt.Run("backend error", func(mt *mtest.T) {
		l, _ := mockLedger(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}))
		_, _, err := l.GetOrCreate(context.Background(), 1001, seed)
		require.ErrorIs(mt, err, ErrUnavailable)
	})
}

func TestMongoApplyTransition(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	phone := "+14155550123"
	mut := user.Mutation{To: user.StatePhoneEntered, PhoneNumber: &phone, At: mongoNow.Add(time.Minute)}

	mt.Run("applied", func(mt *mtest.T) {
		l, _ := mockLedger(mt)
		doc := append(userBSON(1001, user.StatePhoneEntered), bson.E{Key: "phone_number", Value: phone})
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: doc}))

		rec, err := l.ApplyTransition(context.Background(), 1001, user.StateNotStarted, mut)
		require.NoError(mt, err)
		require.Equal(mt, user.StatePhoneEntered, rec.State)
		require.Equal(mt, phone, rec.PhoneNumber)

		cmd := mt.GetStartedEvent().Command
		require.Equal(mt, "not_started", cmd.Lookup("query", "registration_state").StringValue())
		require.Equal(mt, "phone_entered", cmd.Lookup("update", "$set", "registration_state").StringValue())
	})

	mt.Run("conflict", func(mt *mtest.T) {
		l, ns := mockLedger(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int64(1)}}),
		)
		_, err := l.ApplyTransition(context.Background(), 1001, user.StateNotStarted, mut)
		require.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("not found", func(mt *mtest.T) {
		l, ns := mockLedger(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
		)
		_, err := l.ApplyTransition(context.Background(), 1001, user.StateNotStarted, mut)
		require.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("backend error", func(mt *mtest.T) {
		l, _ := mockLedger(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}))
		_, err := l.ApplyTransition(context.Background(), 1001, user.StateNotStarted, mut)
		require.ErrorIs(mt, err, ErrUnavailable)
	})
}
