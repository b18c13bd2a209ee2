package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"campus-assistant/internal/domain"
)

const attrPersonalHistory = "personal_history"

// RecencyClient stores each user's recent-conversation list as a single item
// keyed by user_id.
type RecencyClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewRecencyClient creates a RecencyClient for tableName.
func NewRecencyClient(api dynamodbAPI, tableName string) (*RecencyClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &RecencyClient{api: api, tableName: tableName, now: time.Now}, nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

// LoadRecency returns the stored list for userID; a user without an item has
// an empty list.
func (c *RecencyClient) LoadRecency(ctx context.Context, userID string) ([]domain.RecencyEntry, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadRecency get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return []domain.RecencyEntry{}, nil
	}

	raw, ok := out.Item[attrPersonalHistory]
	if !ok {
		return []domain.RecencyEntry{}, nil
	}
	list, ok := raw.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", attrPersonalHistory)
	}

	entries := make([]domain.RecencyEntry, 0, len(list.Value))
	for i, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: LoadRecency entry %d is not a map", i)
		}
		e, err := itemToRecencyEntry(m.Value)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadRecency entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SaveRecency replaces the user's whole list in one write.
func (c *RecencyClient) SaveRecency(ctx context.Context, userID string, entries []domain.RecencyEntry) error {
	list := make([]types.AttributeValue, 0, len(entries))
	for _, e := range entries {
		list = append(list, &types.AttributeValueMemberM{Value: recencyEntryItem(e)})
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              userKey(userID),
		UpdateExpression: aws.String("SET personal_history = :ph, updated_at = :now, created_at = if_not_exists(created_at, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ph":  &types.AttributeValueMemberL{Value: list},
			":now": timeValue(c.now()),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveRecency: %w", err)
	}
	return nil
}

// Ping checks that the personal history table is reachable.
func (c *RecencyClient) Ping(ctx context.Context) error {
	return describeTable(ctx, c.api, c.tableName)
}

func recencyEntryItem(e domain.RecencyEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"thread_id":  &types.AttributeValueMemberS{Value: e.ThreadID},
		"title":      &types.AttributeValueMemberS{Value: e.Title},
		"created_at": timeValue(e.CreatedAt),
		"updated_at": timeValue(e.UpdatedAt),
	}
}

func itemToRecencyEntry(item map[string]types.AttributeValue) (domain.RecencyEntry, error) {
	threadID, err := strAttr(item, "thread_id")
	if err != nil {
		return domain.RecencyEntry{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	created, err := timeAttr(item, "created_at")
	if err != nil {
		return domain.RecencyEntry{}, err
	}
	updated, err := timeAttr(item, "updated_at")
	if err != nil {
		return domain.RecencyEntry{}, err
	}
	return domain.RecencyEntry{
		ThreadID:  threadID,
		Title:     title,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
