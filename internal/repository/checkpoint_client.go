package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"campus-assistant/internal/domain"
)

const skPrefixCheckpoint = "CHECKPOINT#"

// CheckpointClient stores conversation checkpoints in a DynamoDB table keyed
// by conversation id (PK) and zero-padded revision (SK).
type CheckpointClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewCheckpointClient creates a CheckpointClient for tableName.
func NewCheckpointClient(api dynamodbAPI, tableName string) (*CheckpointClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &CheckpointClient{api: api, tableName: tableName, now: time.Now}, nil
}

// checkpointSK sorts lexically in revision order.
func checkpointSK(revision int64) string {
	return fmt.Sprintf("%s%020d", skPrefixCheckpoint, revision)
}

// LatestCheckpoint returns the highest revision stored for conversationID, or
// nil when the conversation has none.
func (c *CheckpointClient) LatestCheckpoint(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: conversationID},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixCheckpoint},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LatestCheckpoint query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return nil, nil
	}

	cp, err := itemToCheckpoint(conversationID, out.Items[0])
	if err != nil {
		return nil, fmt.Errorf("repository: LatestCheckpoint unmarshal: %w", err)
	}
	return &cp, nil
}

// AppendCheckpoint writes revision parentRevision+1. The write fails with
// domain.ErrCheckpointConflict when that revision already exists.
func (c *CheckpointClient) AppendCheckpoint(ctx context.Context, conversationID string, parentRevision int64, checkpointID string, blob []byte) (domain.Checkpoint, error) {
	if conversationID == "" || checkpointID == "" {
		return domain.Checkpoint{}, errors.New("repository: AppendCheckpoint: conversation and checkpoint ids are required")
	}

	cp := domain.Checkpoint{
		ConversationID: conversationID,
		Revision:       parentRevision + 1,
		ID:             checkpointID,
		CreatedAt:      c.now().UTC(),
		Blob:           blob,
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                checkpointItem(cp, blob),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	var conflict *types.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return domain.Checkpoint{}, fmt.Errorf("repository: AppendCheckpoint revision %d: %w", cp.Revision, domain.ErrCheckpointConflict)
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("repository: AppendCheckpoint: %w", err)
	}
	return cp, nil
}

// Ping checks that the checkpoint table is reachable.
func (c *CheckpointClient) Ping(ctx context.Context) error {
	return describeTable(ctx, c.api, c.tableName)
}

func checkpointItem(cp domain.Checkpoint, blob []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: cp.ConversationID},
		"SK":            &types.AttributeValueMemberS{Value: checkpointSK(cp.Revision)},
		"checkpoint_id": &types.AttributeValueMemberS{Value: cp.ID},
		"revision":      &types.AttributeValueMemberN{Value: strconv.FormatInt(cp.Revision, 10)},
		"created_at":    timeValue(cp.CreatedAt),
		"checkpoint":    &types.AttributeValueMemberB{Value: blob},
	}
}

// itemToCheckpoint keeps the checkpoint attribute in its stored form; older
// writers stored base64 strings rather than binary.
func itemToCheckpoint(conversationID string, item map[string]types.AttributeValue) (domain.Checkpoint, error) {
	revision, err := int64Attr(item, "revision")
	if err != nil {
		return domain.Checkpoint{}, err
	}
	id, _ := strAttr(item, "checkpoint_id") // allow empty
	created, err := timeAttr(item, "created_at")
	if err != nil {
		return domain.Checkpoint{}, err
	}

	var blob any
	switch v := item["checkpoint"].(type) {
	case *types.AttributeValueMemberB:
		blob = v.Value
	case *types.AttributeValueMemberS:
		blob = v.Value
	case nil:
	default:
		return domain.Checkpoint{}, fmt.Errorf("repository: attribute %q has unsupported type %T", "checkpoint", v)
	}

	return domain.Checkpoint{
		ConversationID: conversationID,
		Revision:       revision,
		ID:             id,
		CreatedAt:      created,
		Blob:           blob,
	}, nil
}
