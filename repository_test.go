package typeorm_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	typeorm "github.com/martinschleiss/typeorm"
	"github.com/martinschleiss/typeorm/lazy"
	"github.com/martinschleiss/typeorm/schema"
	"github.com/martinschleiss/typeorm/store"
)

type Author struct {
	ID   uint
	Name string
}

type Post struct {
	ID       uint
	Title    string
	AuthorID uint
	Author   *lazy.Relation[*Author]
	Comments *lazy.Relation[[]*Comment]
}

type Comment struct {
	ID     uint
	PostID uint
	Body   string
}

// fakePlanner serves canned rows per table and counts relation loads.
type fakePlanner struct {
	rows      map[string][]store.Row
	loadCalls int32
}

func (p *fakePlanner) Load(_ context.Context, rel *schema.Relationship, ownerKey interface{}, _ map[string]interface{}) ([]store.Row, error) {
	atomic.AddInt32(&p.loadCalls, 1)
	return p.rows[rel.FieldSchema.Table], nil
}

func (p *fakePlanner) Find(_ context.Context, table string, _ map[string]interface{}) ([]store.Row, error) {
	return p.rows[table], nil
}

// nopStore satisfies store.Store for find-only tests.
type nopStore struct{}

func (nopStore) Execute(context.Context, *store.Operation) (store.Result, error) {
	return store.Result{AffectedRows: 1}, nil
}

func TestFindOneHydratesColumns(t *testing.T) {
	planner := &fakePlanner{rows: map[string][]store.Row{
		"posts": {{"id": int64(1), "title": "hello", "author_id": int64(4)}},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var post Post
	require.NoError(t, db.FindOne(context.Background(), &post, map[string]interface{}{"id": 1}))

	assert.Equal(t, uint(1), post.ID)
	assert.Equal(t, "hello", post.Title)
	assert.Equal(t, uint(4), post.AuthorID)
}

func TestFindOneNotFound(t *testing.T) {
	db := typeorm.Open(nopStore{}, &fakePlanner{rows: map[string][]store.Row{}})

	var post Post
	err := db.FindOne(context.Background(), &post, map[string]interface{}{"id": 99})
	assert.ErrorIs(t, err, typeorm.ErrRecordNotFound)
}

func TestFindOneRejectsNonPointer(t *testing.T) {
	db := typeorm.Open(nopStore{}, &fakePlanner{})

	err := db.FindOne(context.Background(), Post{}, nil)
	assert.ErrorIs(t, err, typeorm.ErrModelValueRequired)
}

func TestLazyRelationLoadsOnFirstConsult(t *testing.T) {
	planner := &fakePlanner{rows: map[string][]store.Row{
		"posts":   {{"id": int64(1), "title": "hello", "author_id": int64(4)}},
		"authors": {{"id": int64(4), "name": "jinzhu"}},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var post Post
	require.NoError(t, db.FindOne(context.Background(), &post, map[string]interface{}{"id": 1}))

	require.NotNil(t, post.Author)
	assert.False(t, post.Author.IsLoaded(), "hydration must not load the relation")
	assert.EqualValues(t, 0, atomic.LoadInt32(&planner.loadCalls))

	author, err := post.Author.Consult(context.Background())
	require.NoError(t, err)
	require.NotNil(t, author)
	assert.Equal(t, uint(4), author.ID)
	assert.Equal(t, "jinzhu", author.Name)
	assert.EqualValues(t, 1, atomic.LoadInt32(&planner.loadCalls))

	// cached thereafter
	_, err = post.Author.Consult(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&planner.loadCalls))
}

func TestLazyToManyRelation(t *testing.T) {
	planner := &fakePlanner{rows: map[string][]store.Row{
		"posts": {{"id": int64(1), "title": "hello", "author_id": int64(4)}},
		"comments": {
			{"id": int64(10), "post_id": int64(1), "body": "first"},
			{"id": int64(11), "post_id": int64(1), "body": "second"},
		},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var post Post
	require.NoError(t, db.FindOne(context.Background(), &post, map[string]interface{}{"id": 1}))

	comments, err := post.Comments.Consult(context.Background())
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, uint(1), comments[1].PostID)
}

func TestEmptyLazyToOneRelation(t *testing.T) {
	planner := &fakePlanner{rows: map[string][]store.Row{
		"posts": {{"id": int64(1), "title": "orphan", "author_id": int64(0)}},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var post Post
	require.NoError(t, db.FindOne(context.Background(), &post, map[string]interface{}{"id": 1}))

	author, err := post.Author.Consult(context.Background())
	require.NoError(t, err)
	assert.Nil(t, author, "missing related row resolves to nil, not an error")
}

func TestRemoveInvalidatesHandles(t *testing.T) {
	planner := &fakePlanner{rows: map[string][]store.Row{
		"posts":   {{"id": int64(1), "title": "hello", "author_id": int64(4)}},
		"authors": {{"id": int64(4), "name": "jinzhu"}},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var post Post
	require.NoError(t, db.FindOne(context.Background(), &post, map[string]interface{}{"id": 1}))
	_, err := post.Author.Consult(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.Remove(context.Background(), &post))

	_, err = post.Author.Consult(context.Background())
	assert.ErrorIs(t, err, typeorm.ErrStaleHandle)
}

func TestEagerRelationOption(t *testing.T) {
	type Profile struct {
		ID     uint
		UserID uint
		Bio    string
	}

	type User struct {
		ID      uint
		Name    string
		Profile *Profile
	}

	planner := &fakePlanner{rows: map[string][]store.Row{
		"users":    {{"id": int64(2), "name": "ada"}},
		"profiles": {{"id": int64(5), "user_id": int64(2), "bio": "engineer"}},
	}}
	db := typeorm.Open(nopStore{}, planner)

	var user User
	require.NoError(t, db.FindOne(context.Background(), &user, map[string]interface{}{"id": 2}, typeorm.WithRelations("Profile")))

	require.NotNil(t, user.Profile)
	assert.Equal(t, "engineer", user.Profile.Bio)
	assert.EqualValues(t, 1, atomic.LoadInt32(&planner.loadCalls))

	// without the option the relation stays unset
	planner.loadCalls = 0
	var bare User
	require.NoError(t, db.FindOne(context.Background(), &bare, map[string]interface{}{"id": 2}))
	assert.Nil(t, bare.Profile)
	assert.EqualValues(t, 0, atomic.LoadInt32(&planner.loadCalls))
}
