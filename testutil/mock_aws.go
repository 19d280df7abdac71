package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// record appends in to calls under mu.
func record[T any](mu *sync.Mutex, calls *[]T, in T) {
	mu.Lock()
	defer mu.Unlock()
	*calls = append(*calls, in)
}

// MockDynamoDBClient satisfies approval.DynamoDBAPI. Inputs are recorded in
// the *Calls slices; a nil *Func field answers with an empty output.
type MockDynamoDBClient struct {
	mu sync.Mutex

	PutItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItemFunc func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	QueryFunc   func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)

	PutItemCalls []*dynamodb.PutItemInput
	GetItemCalls []*dynamodb.GetItemInput
	QueryCalls   []*dynamodb.QueryInput
}

func (m *MockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	record(&m.mu, &m.PutItemCalls, params)
	if m.PutItemFunc == nil {
		return &dynamodb.PutItemOutput{}, nil
	}
	return m.PutItemFunc(ctx, params, optFns...)
}

func (m *MockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	record(&m.mu, &m.GetItemCalls, params)
	if m.GetItemFunc == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.GetItemFunc(ctx, params, optFns...)
}

func (m *MockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	record(&m.mu, &m.QueryCalls, params)
	if m.QueryFunc == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return m.QueryFunc(ctx, params, optFns...)
}

// MockSNSClient satisfies notification.SNSAPI.
type MockSNSClient struct {
	mu sync.Mutex

	PublishFunc  func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	PublishCalls []*sns.PublishInput
}

func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	record(&m.mu, &m.PublishCalls, params)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	m.mu.Lock()
	n := len(m.PublishCalls)
	m.mu.Unlock()
	return &sns.PublishOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", n))}, nil
}

// LastPublishedMessage returns the most recent Publish input, or nil.
func (m *MockSNSClient) LastPublishedMessage() *sns.PublishInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishCalls) == 0 {
		return nil
	}
	return m.PublishCalls[len(m.PublishCalls)-1]
}
