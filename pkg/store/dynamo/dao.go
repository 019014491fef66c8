// Package dynamo implements the draft store on a DynamoDB table.
//
// The table uses the draft id as its hash key and a UserIndex GSI on the
// owner identity for Query. Items carry the saved date as unix milliseconds.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/oklog/ulid/v2"
	"github.com/savaki/ddb"

	"github.com/draftsync/draftsync/pkg/store"
)

// item is the DynamoDB representation of a draft.
type item struct {
	ID          string `dynamodbav:"pk" ddb:"hash"`
	Data        string `dynamodbav:"data"`
	UserID      string `dynamodbav:"user_id" ddb:"gsi_hash:UserIndex"`
	StoryblokID string `dynamodbav:"storyblok_id"`
	SavedDate   int64  `dynamodbav:"saved_date"`
}

func fromDraft(d store.Draft) item {
	return item{
		ID:          d.ID,
		Data:        d.Data,
		UserID:      d.UserID,
		StoryblokID: d.StoryblokID,
		SavedDate:   d.SavedDate.UnixMilli(),
	}
}

func (i item) toDraft() store.Draft {
	return store.Draft{
		ID:          i.ID,
		Data:        i.Data,
		UserID:      i.UserID,
		StoryblokID: i.StoryblokID,
		SavedDate:   time.UnixMilli(i.SavedDate).UTC(),
	}
}

// DAO provides access to the drafts table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

var _ store.Store = (*DAO)(nil)

// New creates a new drafts DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, item{}),
		api:       api,
		tableName: tableName,
	}
}

// Create implements store.Store.
func (d *DAO) Create(ctx context.Context, draft store.Draft) (store.Draft, error) {
	if err := store.Validate(draft); err != nil {
		return store.Draft{}, err
	}

	draft.ID = ulid.Make().String()
	draft.SavedDate = time.Now().UTC()

	if err := d.table.Put(fromDraft(draft)).RunWithContext(ctx); err != nil {
		return store.Draft{}, fmt.Errorf("failed to create draft %v: %w", draft.ID, err)
	}
	return draft, nil
}

// UpdateByID implements store.Store. The read-modify-write is last-write-wins
// by design; drafts carry no concurrency token.
func (d *DAO) UpdateByID(ctx context.Context, id string, update store.Update) (store.Draft, error) {
	var it item
	if err := d.table.Get(id).ScanWithContext(ctx, &it); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return store.Draft{}, store.ErrNotFound
		}
		return store.Draft{}, fmt.Errorf("failed to get draft %v: %w", id, err)
	}

	if update.Data != nil {
		it.Data = *update.Data
	}
	if update.StoryblokID != nil {
		it.StoryblokID = *update.StoryblokID
	}
	it.SavedDate = time.Now().UTC().UnixMilli()

	if err := d.table.Put(it).RunWithContext(ctx); err != nil {
		return store.Draft{}, fmt.Errorf("failed to update draft %v: %w", id, err)
	}
	return it.toDraft(), nil
}

// Query implements store.Store using the UserIndex GSI. The optional
// Storyblok filter is applied after the query; per-owner result sets are
// small.
func (d *DAO) Query(ctx context.Context, filter store.Filter) ([]store.Draft, error) {
	var items []item
	err := d.table.Query("#UserID = ?", filter.UserID).
		IndexName("UserIndex").
		FindAllWithContext(ctx, &items)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts for user %v: %w", filter.UserID, err)
	}

	var out []store.Draft
	for _, it := range items {
		if filter.StoryblokID != "" && it.StoryblokID != filter.StoryblokID {
			continue
		}
		out = append(out, it.toDraft())
	}
	return out, nil
}

// CreateTableIfNotExists provisions the drafts table. Intended for local
// development against dynamodb-local.
func (d *DAO) CreateTableIfNotExists(ctx context.Context) error {
	return d.table.CreateTableIfNotExists(ctx)
}
