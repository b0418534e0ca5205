package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

func TestUpdateRejectsEmptyPayload(t *testing.T) {
	c := &Collection[testUser]{}

	_, err := c.Update(context.Background(), &Where{Flat: Cond{"name": "Alice"}}, map[string]any{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "update", verr.Op)
}

func TestUpdateRejectsIdentityOnlyPayload(t *testing.T) {
	c := &Collection[testUser]{}

	// identity is immutable, so a payload of nothing but identity fields
	// is as empty as an empty one
	_, err := c.Update(context.Background(), nil, map[string]any{"id": "abc", "_id": "def"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

// Integration tests below need a running MongoDB. They skip themselves when
// the server is not reachable, same as the driver-level tests this layer
// grew out of.

func testDB(t *testing.T) (*DB, context.Context) {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("skipping integration test - could not create client: %v", err)
	}
	pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
	defer pcancel()
	if err := client.Ping(pctx, nil); err != nil {
		t.Skipf("skipping integration test - server not available: %v", err)
	}

	dbname := fmt.Sprintf("docstore_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		cctx := context.Background()
		_ = client.Database(dbname).Drop(cctx)
		_ = client.Disconnect(cctx)
	})
	return NewDB(client, client.Database(dbname), zap.NewNop().Sugar()), ctx
}

func TestInsertRoundTrip(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	id, err := users.Insert(ctx, testUser{ID: "caller-supplied-is-ignored", Name: "Alice", Age: 30})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.NotEqual(t, "caller-supplied-is-ignored", id)

	got, err := users.FindSingle(ctx, &Query{Where: &Where{Flat: Cond{"id": id}}})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, 30, got.Age)

	// the raw document shape exposes the external identifier only
	raw := GetCollection[map[string]any](db, "users")
	doc, err := raw.FindSingle(ctx, &Query{Where: &Where{Flat: Cond{"id": id}}})
	require.NoError(t, err)
	assert.Contains(t, *doc, "id")
	assert.NotContains(t, *doc, "_id")
}

func TestFindSingleNotFound(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	_, err := users.FindSingle(ctx, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = users.FindSingle(ctx, &Query{Where: &Where{Flat: Cond{"name": "Nobody"}}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindManyWithoutQuery(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for i := 0; i < 3; i++ {
		_, err := users.Insert(ctx, testUser{Name: fmt.Sprintf("user-%d", i)})
		require.NoError(t, err)
	}

	res, err := users.FindMany(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, res.Datas, 3)
	assert.Equal(t, int64(3), res.TotalCount)
}

func TestCountInvariance(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for i := 0; i < 5; i++ {
		_, err := users.Insert(ctx, testUser{Name: fmt.Sprintf("user-%d", i), Age: 20 + i})
		require.NoError(t, err)
	}

	where := &Where{Flat: Cond{"age": map[string]any{"$gte": 22}}}

	n, err := users.Count(ctx, where)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	plain, err := users.FindMany(ctx, &Query{Where: where})
	require.NoError(t, err)
	assert.Equal(t, n, plain.TotalCount)
	assert.Len(t, plain.Datas, 3)

	// selection, sorting, aliasing, joins and pagination must not move the count
	shaped, err := users.FindMany(ctx, &Query{
		Where:   where,
		Select:  []string{"name", "alias"},
		Sort:    []SortKey{{Field: "age", Desc: true}},
		Aliases: []Alias{{Name: "alias", Path: "name"}},
		Joins:   []Join{{Field: "friend", Collection: "users"}},
		Skip:    1,
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, n, shaped.TotalCount)
	assert.Len(t, shaped.Datas, 1)
}

func TestSkipLimitWindow(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for i := 0; i < 5; i++ {
		_, err := users.Insert(ctx, testUser{Name: fmt.Sprintf("user-%d", i), Age: i})
		require.NoError(t, err)
	}

	res, err := users.FindMany(ctx, &Query{
		Sort:  []SortKey{{Field: "age"}},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Datas, 2)
	assert.Equal(t, "user-1", res.Datas[0].Name)
	assert.Equal(t, "user-2", res.Datas[1].Name)
	assert.Equal(t, int64(5), res.TotalCount)
}

func TestSortDescending(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for _, age := range []int{30, 10, 20} {
		_, err := users.Insert(ctx, testUser{Name: fmt.Sprintf("age-%d", age), Age: age})
		require.NoError(t, err)
	}

	res, err := users.FindMany(ctx, &Query{Sort: []SortKey{{Field: "age", Desc: true}}})
	require.NoError(t, err)
	require.Len(t, res.Datas, 3)
	assert.Equal(t, 30, res.Datas[0].Age)
	assert.Equal(t, 10, res.Datas[2].Age)
}

func TestJoinCardinality(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")
	posts := GetCollection[map[string]any](db, "posts")

	alice, err := users.Insert(ctx, testUser{Name: "Alice"})
	require.NoError(t, err)
	bob, err := users.Insert(ctx, testUser{Name: "Bob"})
	require.NoError(t, err)

	_, err = posts.Insert(ctx, map[string]any{
		"title":     "scalar-ref",
		"createdBy": alice,
		"members":   []string{alice, bob},
	})
	require.NoError(t, err)

	res, err := posts.FindMany(ctx, &Query{
		Joins: []Join{
			{Field: "createdBy", Collection: "users", Select: []string{"name"}},
			{Field: "members", Collection: "users"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Datas, 1)
	doc := res.Datas[0]

	// a scalar reference resolves to a one-element collection
	created, ok := doc["createdBy"].(bson.A)
	require.True(t, ok, "createdBy resolved to %T", doc["createdBy"])
	require.Len(t, created, 1)
	cdoc := created[0].(bson.M)
	assert.Equal(t, "Alice", cdoc["name"])
	assert.Equal(t, alice, cdoc["id"])
	assert.NotContains(t, cdoc, "_id")

	// an N-element reference array resolves to N documents
	members, ok := doc["members"].(bson.A)
	require.True(t, ok)
	assert.Len(t, members, 2)
	for _, m := range members {
		assert.NotContains(t, m.(bson.M), "_id")
	}
}

func TestJoinConditionFiltersInsideLookup(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")
	posts := GetCollection[map[string]any](db, "posts")

	young, err := users.Insert(ctx, testUser{Name: "Young", Age: 20})
	require.NoError(t, err)
	old, err := users.Insert(ctx, testUser{Name: "Old", Age: 70})
	require.NoError(t, err)

	_, err = posts.Insert(ctx, map[string]any{
		"title":   "filtered-join",
		"members": []string{young, old},
	})
	require.NoError(t, err)

	res, err := posts.FindMany(ctx, &Query{
		Joins: []Join{{
			Field:      "members",
			Collection: "users",
			Match:      Cond{"age": map[string]any{"$lt": 50}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Datas, 1)

	members := res.Datas[0]["members"].(bson.A)
	require.Len(t, members, 1)
	assert.Equal(t, "Young", members[0].(bson.M)["name"])
}

func TestAliasComputedBeforeProjection(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[map[string]any](db, "users")

	_, err := users.Insert(ctx, map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)

	res, err := users.FindMany(ctx, &Query{
		Select:  []string{"author"},
		Aliases: []Alias{{Name: "author", Path: "name"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Datas, 1)

	doc := res.Datas[0]
	assert.Equal(t, "Alice", doc["author"])
	assert.NotContains(t, doc, "name") // not selected, dropped by projection
}

func TestUpdateReturnsModifiedCount(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for i := 0; i < 3; i++ {
		_, err := users.Insert(ctx, testUser{Name: "dup", Age: i})
		require.NoError(t, err)
	}

	n, err := users.Update(ctx,
		&Where{Flat: Cond{"age": map[string]any{"$lt": 2}}},
		map[string]any{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := users.Count(ctx, &Where{Flat: Cond{"name": "dup"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestDeleteReturnsDeletedCount(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	for i := 0; i < 3; i++ {
		_, err := users.Insert(ctx, testUser{Name: "x", Age: i})
		require.NoError(t, err)
	}

	n, err := users.Delete(ctx, &Where{Flat: Cond{"age": map[string]any{"$gt": 0}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUniqueEmailScenario(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	_, err := users.Insert(ctx, testUser{Name: "Alice", Email: "a@test.com"}, "email")
	require.NoError(t, err)

	_, err = users.Insert(ctx, testUser{Name: "Imposter", Email: "a@test.com"}, "email")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := users.FindSingle(ctx, &Query{Where: &Where{Flat: Cond{"email": "a@test.com"}}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
}

func TestEnsureUniqueIdempotent(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	require.NoError(t, users.EnsureUnique(ctx, "email"))
	require.NoError(t, users.EnsureUnique(ctx, "email"))

	// second ensure hits the cache; drop it and ensure again to exercise
	// the exists-check path against the live index
	db.ensured.Purge()
	require.NoError(t, users.EnsureUnique(ctx, "email"))

	cursor, err := db.db.Collection("users").Indexes().List(ctx)
	require.NoError(t, err)
	var specs []bson.M
	require.NoError(t, cursor.All(ctx, &specs))

	emailIndexes := 0
	for _, s := range specs {
		if key, ok := s["key"].(bson.M); ok {
			if _, ok := key["email"]; ok && len(key) == 1 {
				emailIndexes++
			}
		}
	}
	assert.Equal(t, 1, emailIndexes)
}

func TestEnsureUniqueRejectsPlainIndexWithSameKeys(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	// a pre-existing non-unique index over the same key enforces nothing
	// and blocks creating the unique one
	_, err := db.db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}},
	})
	require.NoError(t, err)

	err = users.EnsureUnique(ctx, "email")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unique", verr.Op)

	// the guarded write must not proceed as if a constraint held
	_, err = users.Insert(ctx, testUser{Name: "A", Email: "dup@test.com"}, "email")
	require.ErrorAs(t, err, &verr)
}

func TestInsertManyPartialSuccess(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	ids, err := users.InsertMany(ctx, []testUser{
		{Name: "A", Email: "same@test.com"},
		{Name: "B", Email: "same@test.com"},
		{Name: "C", Email: "other@test.com"},
	}, "email")

	// one duplicate fails, its unordered siblings land; the successes are
	// reported instead of an error
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransactionAbortHidesWrites(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	err := db.WithTransaction(ctx, func(tctx context.Context) error {
		if _, err := users.Insert(tctx, testUser{Name: "ghost"}); err != nil {
			return err
		}
		return errors.New("second operation failed")
	})

	var terr *TransactionError
	require.ErrorAs(t, err, &terr)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "aborted insert must not be visible")
}

func TestTransactionCommit(t *testing.T) {
	db, ctx := testDB(t)
	users := GetCollection[testUser](db, "users")

	err := db.WithTransaction(ctx, func(tctx context.Context) error {
		_, err := users.Insert(tctx, testUser{Name: "durable"})
		return err
	})
	if err != nil {
		// standalone deployments have no transaction support
		t.Skipf("transactions not supported by test deployment: %v", err)
	}

	n, err := users.Count(ctx, &Where{Flat: Cond{"name": "durable"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
