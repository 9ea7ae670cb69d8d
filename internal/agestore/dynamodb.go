package agestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrID      = "id"
	attrCreated = "created_time"

	tableWait       = 5 * time.Minute
	maxBatchRetries = 5
)

// DynamoDBAPI defines the DynamoDB operations used by the store.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var tableNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// TableName derives the store table for an API name and stage,
// e.g. "ansible-core-ci", "prod" -> "ansible_core_ci_resources_prod".
func TableName(apiName, stage string) string {
	return tableNameSanitizer.ReplaceAllString(apiName+"-resources-"+stage, "_")
}

// DynamoStore is the durable Store shared by every sweeper invocation.
// The table is created on first use.
type DynamoStore struct {
	client DynamoDBAPI
	table  string

	// mu guards ready. A failed initialization is retried on the next call.
	mu    sync.Mutex
	ready bool

	// waitTimeout bounds table create/delete waits.
	waitTimeout time.Duration
}

// NewDynamoStore creates a store over table. No calls are made until first use.
func NewDynamoStore(client DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, waitTimeout: tableWait}
}

// Table returns the table name.
func (s *DynamoStore) Table() string {
	return s.table
}

func (s *DynamoStore) initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *DynamoStore) ensureTable(ctx context.Context) error {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return s.createTable(ctx)
		}
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}

	if out.Table != nil && out.Table.TableStatus == types.TableStatusDeleting {
		waiter := dynamodb.NewTableNotExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, s.waitTimeout); err != nil {
			return fmt.Errorf("wait for table %s deletion: %w", s.table, err)
		}
		return s.createTable(ctx)
	}
	return nil
}

func (s *DynamoStore) createTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(attrID),
			AttributeType: types.ScalarAttributeTypeS,
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(attrID),
			KeyType:       types.KeyTypeHash,
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, s.waitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", s.table, err)
	}
	return nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: key}}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// Get returns the creation time stored under key.
func (s *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.initialize(ctx); err != nil {
		return "", false, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyOf(key),
		ProjectionExpression:     aws.String("#c"),
		ExpressionAttributeNames: map[string]string{"#c": attrCreated},
	})
	if err != nil {
		return "", false, fmt.Errorf("get item %s: %w", key, err)
	}

	value := stringAttr(out.Item, attrCreated)
	return value, value != "", nil
}

// SetIfAbsent writes value under key with an attribute_not_exists condition.
func (s *DynamoStore) SetIfAbsent(ctx context.Context, key, value string) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrID:      &types.AttributeValueMemberS{Value: key},
			attrCreated: &types.AttributeValueMemberS{Value: value},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrID},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrExists
		}
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(key),
	})
	if err != nil {
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	return nil
}

// DeleteBatch removes keys in BatchWriteItem requests of up to 25 deletes,
// resubmitting unprocessed items a bounded number of times.
func (s *DynamoStore) DeleteBatch(ctx context.Context, keys []string) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += 25 {
		end := min(start+25, len(keys))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: keyOf(k)}})
		}

		pending := map[string][]types.WriteRequest{s.table: requests}
		for attempt := 0; len(pending[s.table]) > 0; attempt++ {
			if attempt == maxBatchRetries {
				return fmt.Errorf("batch delete: %d items unprocessed", len(pending[s.table]))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// Scan reads one page of at most limit rows. The filter is applied server side
// after the limit, so a page may be empty while the cursor is not.
func (s *DynamoStore) Scan(ctx context.Context, filter Filter, limit int, cursor string) (Page, error) {
	if err := s.initialize(ctx); err != nil {
		return Page{}, err
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#k, #c"),
		ExpressionAttributeNames: map[string]string{"#k": attrID, "#c": attrCreated},
		ConsistentRead:           aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if !filter.Before.IsZero() {
		input.FilterExpression = aws.String("#c < :cutoff")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberS{Value: FormatTime(filter.Before)},
		}
	}
	if cursor != "" {
		input.ExclusiveStartKey = keyOf(cursor)
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("scan %s: %w", s.table, err)
	}

	page := Page{Records: make([]Record, 0, len(out.Items))}
	for _, item := range out.Items {
		page.Records = append(page.Records, Record{
			Key:       stringAttr(item, attrID),
			CreatedAt: stringAttr(item, attrCreated),
		})
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.Cursor = stringAttr(out.LastEvaluatedKey, attrID)
	}
	return page, nil
}

// Close is a no-op; the SDK client holds no resources.
func (s *DynamoStore) Close() error {
	return nil
}
