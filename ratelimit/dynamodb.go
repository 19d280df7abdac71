package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	guarderrors "github.com/byteness/saccoguard/errors"
)

// DynamoDBAPI defines the DynamoDB operations needed for rate limiting.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBLimiter implements Limiter as a fixed-window counter shared by
// every guard instance pointing at the same table.
//
// Table schema:
//   - PK: "RL#" + key (e.g. "RL#alice")
//   - WindowStart: RFC3339 start of the current window
//   - Count: requests seen in the current window
//   - TTL: Unix seconds, one hour after the window closes
//
// Store failures fail open: the request is allowed and the error returned
// for the caller to log.
type DynamoDBLimiter struct {
	client    DynamoDBAPI
	tableName string
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewDynamoDBLimiter creates a DynamoDB-backed limiter. The table must have
// a String partition key named "PK".
func NewDynamoDBLimiter(client DynamoDBAPI, tableName string, cfg Config, logger *slog.Logger) (*DynamoDBLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("DynamoDB client cannot be nil")
	}
	if tableName == "" {
		return nil, errors.New("tableName cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoDBLimiter{
		client:    client,
		tableName: tableName,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Allow increments the counter of key's current window. When the stored
// window is an older one the condition fails and the counter is reset.
func (r *DynamoDBLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := r.now()
	windowStart := now.Truncate(r.config.Window)

	count, err := r.increment(ctx, key, windowStart, false)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return r.failOpen(key, err)
		}
		count, err = r.increment(ctx, key, windowStart, true)
		if err != nil {
			return r.failOpen(key, err)
		}
	}

	if count > r.config.EffectiveBurstSize() {
		return false, windowStart.Add(r.config.Window).Sub(now), nil
	}
	return true, 0, nil
}

// increment adds one to the counter for windowStart. With reset it
// overwrites whatever window is stored and starts the count at one.
func (r *DynamoDBLimiter) increment(ctx context.Context, key string, windowStart time.Time, reset bool) (int, error) {
	ttl := windowStart.Add(r.config.Window).Add(time.Hour).Unix()

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "RL#" + key},
		},
		UpdateExpression: aws.String("SET #count = if_not_exists(#count, :zero) + :one, #ws = if_not_exists(#ws, :ws), #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(#ws) OR #ws = :ws"),
		ExpressionAttributeNames: map[string]string{
			"#count": "Count",
			"#ws":    "WindowStart",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":ws":   &types.AttributeValueMemberS{Value: windowStart.UTC().Format(time.RFC3339)},
			":ttl":  &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
	if reset {
		input.UpdateExpression = aws.String("SET #count = :one, #ws = :ws, #ttl = :ttl")
		input.ConditionExpression = nil
		delete(input.ExpressionAttributeValues, ":zero")
	}

	output, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		return 0, err
	}
	return parseCount(output.Attributes["Count"]), nil
}

func (r *DynamoDBLimiter) failOpen(key string, err error) (bool, time.Duration, error) {
	wrapped := guarderrors.WrapDynamoDBError(err, r.tableName, "UpdateItem")
	r.logger.Warn("rate limit store unavailable, failing open", "key", key, "error", wrapped)
	return true, 0, wrapped
}

// parseCount extracts the count value from a DynamoDB attribute.
// Returns 0 if the attribute is nil or cannot be parsed.
func parseCount(attr types.AttributeValue) int {
	n, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0
	}
	return count
}

var _ Limiter = (*DynamoDBLimiter)(nil)
