package store_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dshills/convograph/graph/store"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB client. Query supports
// the "PK = :pk AND begins_with(SK, :sk)" condition and pages two items at a
// time so pagination is exercised.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue // PK|SK -> item
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[attrS(in.Key, "PK")+"|"+attrS(in.Key, "SK")]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[attrS(in.Item, "PK")+"|"+attrS(in.Item, "SK")] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	pk := attrS(in.ExpressionAttributeValues, ":pk")
	prefix := attrS(in.ExpressionAttributeValues, ":sk")

	var keys []string
	for k, item := range f.items {
		if attrS(item, "PK") == pk && strings.HasPrefix(attrS(item, "SK"), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := attrS(in.ExclusiveStartKey, "PK") + "|" + attrS(in.ExclusiveStartKey, "SK")
		for i, k := range keys {
			if k == last {
				start = i + 1
			}
		}
	}

	end := min(start+2, len(keys))
	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		lastItem := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": lastItem["PK"], "SK": lastItem["SK"]}
	}
	return out, nil
}

func TestDynamoStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.Store[TestState] {
		return store.NewDynamoStore[TestState](newFakeDynamo(), "threads")
	})
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	st := store.NewDynamoStore[TestState](fake, "threads")

	if err := st.SaveCheckpoint(ctx, store.Checkpoint[TestState]{ThreadID: "abc", Step: 1, Status: store.StatusRunning}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if err := st.SaveStep(ctx, "abc", store.StepRecord[TestState]{Step: 12, NodeID: "n"}); err != nil {
		t.Fatalf("SaveStep failed: %v", err)
	}

	if _, ok := fake.items["THREAD#abc|CHECKPOINT"]; !ok {
		t.Errorf("expected checkpoint item under THREAD#abc/CHECKPOINT, have %v", keysOf(fake.items))
	}
	if _, ok := fake.items["THREAD#abc|STEP#0000000012"]; !ok {
		t.Errorf("expected zero-padded step sort key, have %v", keysOf(fake.items))
	}
}

func TestDynamoStore_ClientError(t *testing.T) {
	fake := newFakeDynamo()
	fake.err = errors.New("throttled")
	st := store.NewDynamoStore[TestState](fake, "threads")

	_, err := st.LoadCheckpoint(context.Background(), "abc")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected client error to surface, got %v", err)
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func keysOf(m map[string]map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
