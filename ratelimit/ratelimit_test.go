package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/byteness/saccoguard/testutil"
	"golang.org/x/time/rate"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{RequestsPerWindow: 10, Window: time.Minute}, false},
		{"zero requests", Config{Window: time.Minute}, true},
		{"zero window", Config{RequestsPerWindow: 10}, true},
		{"negative burst", Config{RequestsPerWindow: 10, Window: time.Minute, BurstSize: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_EffectiveBurstSize(t *testing.T) {
	testutil.AssertEqual(t, (&Config{RequestsPerWindow: 5}).EffectiveBurstSize(), 5)
	testutil.AssertEqual(t, (&Config{RequestsPerWindow: 5, BurstSize: 8}).EffectiveBurstSize(), 8)
}

func TestConfig_Rate(t *testing.T) {
	testutil.AssertEqual(t, (&Config{RequestsPerWindow: 60, Window: time.Minute}).Rate(), rate.Limit(1))
	testutil.AssertEqual(t, (&Config{RequestsPerWindow: 30, Window: time.Hour}).Rate(), rate.Limit(30.0/3600))
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	b, err := NewTokenBucket(Config{RequestsPerWindow: 3, Window: time.Minute}, WithClock(clock.Now))
	testutil.AssertNoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, retry, err := b.Allow(ctx, "alice")
		testutil.AssertNoError(t, err)
		if !ok || retry != 0 {
			t.Fatalf("request %d: allowed=%v retry=%v", i+1, ok, retry)
		}
	}

	ok, retry, err := b.Allow(ctx, "alice")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, retry, 20*time.Second)

	// A refused request does not consume the next token.
	clock.Advance(20 * time.Second)
	ok, _, _ = b.Allow(ctx, "alice")
	testutil.AssertEqual(t, ok, true)

	// Keys are independent.
	ok, _, _ = b.Allow(ctx, "bob")
	testutil.AssertEqual(t, ok, true)
}

func TestTokenBucket_Burst(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	b, err := NewTokenBucket(Config{RequestsPerWindow: 1, Window: time.Minute, BurstSize: 5}, WithClock(clock.Now))
	testutil.AssertNoError(t, err)

	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _, _ := b.Allow(context.Background(), "alice"); ok {
			allowed++
		}
	}
	testutil.AssertEqual(t, allowed, 5)
}

func TestTokenBucket_Cleanup(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	b, err := NewTokenBucket(Config{RequestsPerWindow: 3, Window: time.Minute}, WithClock(clock.Now))
	testutil.AssertNoError(t, err)

	b.Allow(context.Background(), "alice")
	clock.Advance(45 * time.Second)
	b.Allow(context.Background(), "bob")
	clock.Advance(30 * time.Second)

	testutil.AssertEqual(t, b.Cleanup(), 1)
	testutil.AssertEqual(t, b.Len(), 1)
}

func TestTokenBucket_Concurrent(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Epoch)
	b, err := NewTokenBucket(Config{RequestsPerWindow: 10, Window: time.Hour}, WithClock(clock.Now))
	testutil.AssertNoError(t, err)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := b.Allow(context.Background(), "alice"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	testutil.AssertEqual(t, allowed.Load(), int64(10))
}

// mockDynamoDBClient implements DynamoDBAPI for testing.
type mockDynamoDBClient struct {
	updateItemFn func(ctx context.Context, input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	calls        []*dynamodb.UpdateItemInput
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.calls = append(m.calls, params)
	if m.updateItemFn != nil {
		return m.updateItemFn(ctx, params)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func countOutput(n int) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{
			"Count": &types.AttributeValueMemberN{Value: strconv.Itoa(n)},
		},
	}
}

func newDynamoLimiter(t *testing.T, client DynamoDBAPI, now time.Time) *DynamoDBLimiter {
	t.Helper()
	l, err := NewDynamoDBLimiter(client, "rate-limits", Config{RequestsPerWindow: 3, Window: time.Minute}, nil)
	testutil.AssertNoError(t, err)
	l.now = func() time.Time { return now }
	return l
}

func TestDynamoDBLimiter_Allow(t *testing.T) {
	now := testutil.Epoch.Add(15 * time.Second)
	tests := []struct {
		name      string
		count     int
		wantOK    bool
		wantRetry time.Duration
	}{
		{"under limit", 2, true, 0},
		{"at limit", 3, true, 0},
		{"over limit", 4, false, 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockDynamoDBClient{
				updateItemFn: func(context.Context, *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
					return countOutput(tt.count), nil
				},
			}
			ok, retry, err := newDynamoLimiter(t, mock, now).Allow(context.Background(), "alice")
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, ok, tt.wantOK)
			testutil.AssertEqual(t, retry, tt.wantRetry)

			in := mock.calls[0]
			key := in.Key["PK"].(*types.AttributeValueMemberS)
			testutil.AssertEqual(t, key.Value, "RL#alice")
			ws := in.ExpressionAttributeValues[":ws"].(*types.AttributeValueMemberS)
			testutil.AssertEqual(t, ws.Value, "2026-04-01T09:00:00Z")
			testutil.AssertEqual(t, aws.ToString(in.ConditionExpression), "attribute_not_exists(#ws) OR #ws = :ws")
		})
	}
}

func TestDynamoDBLimiter_WindowRollover(t *testing.T) {
	mock := &mockDynamoDBClient{}
	mock.updateItemFn = func(_ context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		if in.ConditionExpression != nil {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("old window")}
		}
		return countOutput(1), nil
	}

	ok, _, err := newDynamoLimiter(t, mock, testutil.Epoch).Allow(context.Background(), "alice")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, len(mock.calls), 2)
	testutil.AssertEqual(t, aws.ToString(mock.calls[1].UpdateExpression), "SET #count = :one, #ws = :ws, #ttl = :ttl")
	if _, ok := mock.calls[1].ExpressionAttributeValues[":zero"]; ok {
		t.Error("reset should not bind :zero")
	}
}

func TestDynamoDBLimiter_FailsOpen(t *testing.T) {
	mock := &mockDynamoDBClient{
		updateItemFn: func(context.Context, *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("AccessDeniedException: not authorized")
		},
	}
	ok, retry, err := newDynamoLimiter(t, mock, testutil.Epoch).Allow(context.Background(), "alice")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, retry, time.Duration(0))

	var ge guarderrors.GuardError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GuardError, got %v", err)
	}
	testutil.AssertEqual(t, ge.Code(), guarderrors.ErrCodeDynamoDBAccessDenied)
}

func TestNewDynamoDBLimiter_Errors(t *testing.T) {
	cfg := Config{RequestsPerWindow: 3, Window: time.Minute}
	if _, err := NewDynamoDBLimiter(nil, "t", cfg, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewDynamoDBLimiter(&mockDynamoDBClient{}, "", cfg, nil); err == nil {
		t.Error("expected error for empty table")
	}
	if _, err := NewDynamoDBLimiter(&mockDynamoDBClient{}, "t", Config{}, nil); err == nil {
		t.Error("expected error for invalid config")
	}
}
