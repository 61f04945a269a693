package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore is a single-table DynamoDB Store implementation.
//
// Item layout:
//
//	PK = THREAD#<threadID>, SK = CHECKPOINT       thread checkpoint
//	PK = THREAD#<threadID>, SK = STEP#<%010d>     step history
//
// State and pending interrupts are stored as JSON strings so any state type
// round-trips exactly as it does in the other stores.
type DynamoStore[S any] struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoStore creates a store over an existing table with string keys
// PK (partition) and SK (sort).
func NewDynamoStore[S any](client DynamoAPI, tableName string) *DynamoStore[S] {
	return &DynamoStore[S]{client: client, tableName: tableName}
}

type checkpointItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	ThreadID       string `dynamodbav:"ThreadID"`
	Step           int    `dynamodbav:"Step"`
	Status         string `dynamodbav:"Status"`
	Next           string `dynamodbav:"Next"`
	State          string `dynamodbav:"State"`
	Pending        string `dynamodbav:"Pending,omitempty"`
	IdempotencyKey string `dynamodbav:"IdempotencyKey"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
}

type stepItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Step      int    `dynamodbav:"Step"`
	NodeID    string `dynamodbav:"NodeID"`
	State     string `dynamodbav:"State"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

const (
	checkpointSK = "CHECKPOINT"
	stepSKPrefix = "STEP#"
)

func threadPK(threadID string) string {
	return "THREAD#" + threadID
}

func stepSK(step int) string {
	return fmt.Sprintf("%s%010d", stepSKPrefix, step)
}

// SaveCheckpoint implements Store.
func (d *DynamoStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	row, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(checkpointItem{
		PK:             threadPK(cp.ThreadID),
		SK:             checkpointSK,
		ThreadID:       row.threadID,
		Step:           row.step,
		Status:         row.status,
		Next:           row.next,
		State:          string(row.state),
		Pending:        string(row.pending),
		IdempotencyKey: row.idempotencyKey,
		UpdatedAt:      updatedAt(cp.UpdatedAt).Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements Store.
func (d *DynamoStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: checkpointSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if out.Item == nil {
		return Checkpoint[S]{}, ErrNotFound
	}

	var item checkpointItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal checkpoint item: %w", err)
	}

	row := checkpointRow{
		threadID:       item.ThreadID,
		step:           item.Step,
		status:         item.Status,
		next:           item.Next,
		state:          []byte(item.State),
		idempotencyKey: item.IdempotencyKey,
	}
	if item.Pending != "" {
		row.pending = []byte(item.Pending)
	}

	cp, err := decodeCheckpoint[S](row)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, item.UpdatedAt); err == nil {
		cp.UpdatedAt = t
	}
	return cp, nil
}

// SaveStep implements Store.
func (d *DynamoStore[S]) SaveStep(ctx context.Context, threadID string, rec StepRecord[S]) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	item, err := attributevalue.MarshalMap(stepItem{
		PK:        threadPK(threadID),
		SK:        stepSK(rec.Step),
		Step:      rec.Step,
		NodeID:    rec.NodeID,
		State:     string(stateJSON),
		CreatedAt: updatedAt(rec.CreatedAt).Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal step item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put step: %w", err)
	}
	return nil
}

// ListSteps implements Store.
func (d *DynamoStore[S]) ListSteps(ctx context.Context, threadID string) ([]StepRecord[S], error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			":sk": &types.AttributeValueMemberS{Value: stepSKPrefix},
		},
		ConsistentRead: aws.Bool(true),
	}

	records := make([]StepRecord[S], 0)
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query steps: %w", err)
		}

		for _, raw := range out.Items {
			var item stepItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal step item: %w", err)
			}
			rec := StepRecord[S]{Step: item.Step, NodeID: item.NodeID}
			if err := json.Unmarshal([]byte(item.State), &rec.State); err != nil {
				return nil, fmt.Errorf("failed to unmarshal state: %w", err)
			}
			if t, err := time.Parse(time.RFC3339Nano, item.CreatedAt); err == nil {
				rec.CreatedAt = t
			}
			records = append(records, rec)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sortSteps(records)
	return records, nil
}
