package approval

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/byteness/saccoguard/catalog"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/byteness/saccoguard/operation"
)

// GSIStatus indexes workflows by status with a created_at sort key.
// It is created externally with the table.
const GSIStatus = "gsi-status"

// DynamoDBAPI defines the DynamoDB operations used by DynamoDBStore.
// This interface enables testing with mock implementations.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBStore implements Store on DynamoDB.
//
// Table schema assumptions:
//   - Partition key: id (String)
//   - GSI gsi-status: partition key status, sort key created_at
//   - TTL attribute: ttl (Number, Unix seconds), set one week after expiry
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a DynamoDBStore using the provided AWS configuration.
func NewDynamoDBStore(cfg aws.Config, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}
}

// NewDynamoDBStoreWithClient creates a DynamoDBStore with a custom client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// retention keeps decided workflows readable for a week after expiry
// before DynamoDB TTL removes them.
const retention = 7 * 24 * time.Hour

type dynamoVote struct {
	ApproverID string `dynamodbav:"approver_id"`
	Decision   string `dynamodbav:"decision"`
	Timestamp  string `dynamodbav:"timestamp"` // RFC3339Nano
}

type dynamoItem struct {
	ID             string `dynamodbav:"id"`
	Service        string `dynamodbav:"service"`
	OperationName  string `dynamodbav:"operation"`
	Category       string `dynamodbav:"category"`
	InitiatorID    string `dynamodbav:"initiator_id"`
	InitiatorRole  string `dynamodbav:"initiator_role"`
	Scope          string `dynamodbav:"scope"`
	OrganizationID string `dynamodbav:"organization_id"`
	ChamaID        string `dynamodbav:"chama_id"`
	CorrelationID  string `dynamodbav:"correlation_id"`

	Amount      *float64 `dynamodbav:"amount,omitempty"`
	Currency    string   `dynamodbav:"currency"`
	Description string   `dynamodbav:"description"`
	Quantity    *int     `dynamodbav:"quantity,omitempty"`
	HasContext  bool     `dynamodbav:"has_context"`

	RequiredApprovers int          `dynamodbav:"required_approvers"`
	Approvals         []dynamoVote `dynamodbav:"approvals"`
	AllowSelf         bool         `dynamodbav:"allow_self_approval"`
	RequireSameLevel  bool         `dynamodbav:"require_same_level"`
	ApproverRoles     []string     `dynamodbav:"approver_roles,omitempty"`

	Status          string `dynamodbav:"status"`
	RejectionReason string `dynamodbav:"rejection_reason"`
	CreatedAt       string `dynamodbav:"created_at"` // RFC3339Nano
	UpdatedAt       string `dynamodbav:"updated_at"` // RFC3339Nano
	ExpiresAt       string `dynamodbav:"expires_at"` // RFC3339Nano
	ApprovedAt      string `dynamodbav:"approved_at"`
	TTL             int64  `dynamodbav:"ttl"`
	Version         int64  `dynamodbav:"version"`
}

func workflowToItem(wf *Workflow) *dynamoItem {
	item := &dynamoItem{
		ID:                wf.ID,
		Service:           wf.Service,
		OperationName:     wf.OperationName,
		Category:          wf.Category,
		InitiatorID:       wf.InitiatorID,
		InitiatorRole:     string(wf.InitiatorRole),
		Scope:             string(wf.Scope),
		OrganizationID:    wf.OrganizationID,
		ChamaID:           wf.ChamaID,
		CorrelationID:     wf.CorrelationID,
		RequiredApprovers: wf.RequiredApprovers,
		AllowSelf:         wf.Policy.AllowSelfApproval,
		RequireSameLevel:  wf.Policy.RequireSameLevel,
		ApproverRoles:     wf.Policy.ApproverRoles,
		Status:            string(wf.Status),
		RejectionReason:   string(wf.RejectionReason),
		CreatedAt:         wf.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         wf.UpdatedAt.Format(time.RFC3339Nano),
		ExpiresAt:         wf.ExpiresAt.Format(time.RFC3339Nano),
		TTL:               wf.ExpiresAt.Add(retention).Unix(),
		Version:           wf.Version,
	}
	if bc := wf.BusinessContext; bc != nil {
		item.HasContext = true
		item.Amount = bc.Amount
		item.Currency = bc.Currency
		item.Description = bc.Description
		item.Quantity = bc.Quantity
	}
	for _, v := range wf.Approvals {
		item.Approvals = append(item.Approvals, dynamoVote{
			ApproverID: v.ApproverID,
			Decision:   string(v.Decision),
			Timestamp:  v.Timestamp.Format(time.RFC3339Nano),
		})
	}
	if wf.ApprovedAt != nil {
		item.ApprovedAt = wf.ApprovedAt.Format(time.RFC3339Nano)
	}
	return item
}

func itemToWorkflow(item *dynamoItem) (*Workflow, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, item.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	wf := &Workflow{
		ID:                item.ID,
		Service:           item.Service,
		OperationName:     item.OperationName,
		Category:          item.Category,
		InitiatorID:       item.InitiatorID,
		InitiatorRole:     catalog.ServiceRole(item.InitiatorRole),
		Scope:             catalog.Scope(item.Scope),
		OrganizationID:    item.OrganizationID,
		ChamaID:           item.ChamaID,
		CorrelationID:     item.CorrelationID,
		RequiredApprovers: item.RequiredApprovers,
		Policy: PolicySnapshot{
			AllowSelfApproval: item.AllowSelf,
			RequireSameLevel:  item.RequireSameLevel,
			ApproverRoles:     item.ApproverRoles,
		},
		Status:          Status(item.Status),
		RejectionReason: RejectionReason(item.RejectionReason),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		ExpiresAt:       expiresAt,
		Version:         item.Version,
	}
	if item.HasContext {
		wf.BusinessContext = &operation.BusinessContext{
			Amount:      item.Amount,
			Currency:    item.Currency,
			Description: item.Description,
			Quantity:    item.Quantity,
		}
	}
	for i, v := range item.Approvals {
		ts, err := time.Parse(time.RFC3339Nano, v.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse approvals[%d].timestamp: %w", i, err)
		}
		wf.Approvals = append(wf.Approvals, Vote{ApproverID: v.ApproverID, Decision: Decision(v.Decision), Timestamp: ts})
	}
	if item.ApprovedAt != "" {
		approvedAt, err := time.Parse(time.RFC3339Nano, item.ApprovedAt)
		if err != nil {
			return nil, fmt.Errorf("parse approved_at: %w", err)
		}
		wf.ApprovedAt = &approvedAt
	}
	return wf, nil
}

// Create stores a new workflow. Returns ErrWorkflowExists if the ID is taken.
func (s *DynamoDBStore) Create(ctx context.Context, wf *Workflow) error {
	av, err := attributevalue.MarshalMap(workflowToItem(wf))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowExists)
		}
		return guarderrors.WrapDynamoDBError(err, s.tableName, "PutItem")
	}
	return nil
}

// Get retrieves a workflow by ID. Returns ErrWorkflowNotFound if absent.
func (s *DynamoDBStore) Get(ctx context.Context, id string) (*Workflow, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, guarderrors.WrapDynamoDBError(err, s.tableName, "GetItem")
	}
	if output.Item == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrWorkflowNotFound)
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return itemToWorkflow(&item)
}

// Update writes wf only if the stored version equals expectedVersion.
// A failed condition is reported as ErrWorkflowNotFound when the item is
// gone and ErrStaleVersion otherwise.
func (s *DynamoDBStore) Update(ctx context.Context, wf *Workflow, expectedVersion int64) error {
	av, err := attributevalue.MarshalMap(workflowToItem(wf))
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(id) AND #v = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#v": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			exists, checkErr := s.exists(ctx, wf.ID)
			if checkErr != nil {
				return fmt.Errorf("dynamodb PutItem condition failed, check exists: %w", checkErr)
			}
			if !exists {
				return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowNotFound)
			}
			return fmt.Errorf("%s: expected version %d: %w", wf.ID, expectedVersion, ErrStaleVersion)
		}
		return guarderrors.WrapDynamoDBError(err, s.tableName, "PutItem")
	}
	return nil
}

func (s *DynamoDBStore) exists(ctx context.Context, id string) (bool, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  idKey(id),
		ProjectionExpression: aws.String("id"),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb GetItem: %w", err)
	}
	return output.Item != nil, nil
}

// ListByStatus queries gsi-status, newest first. Scope and group are applied
// as a filter expression, so a page may hold fewer than Limit items while
// Next is still set.
func (s *DynamoDBStore) ListByStatus(ctx context.Context, q ListQuery) (*Page, error) {
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: string(q.Status)},
	}
	var filters []string
	if q.Scope != "" {
		names["#scope"] = "scope"
		values[":scope"] = &types.AttributeValueMemberS{Value: string(q.Scope)}
		filters = append(filters, "#scope = :scope")
	}
	if q.GroupID != "" {
		names["#org"] = "organization_id"
		names["#chama"] = "chama_id"
		values[":group"] = &types.AttributeValueMemberS{Value: q.GroupID}
		filters = append(filters, "(#org = :group OR #chama = :group)")
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(GSIStatus),
		KeyConditionExpression:    aws.String("#s = :v"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(effectiveLimit(q.Limit))),
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}
	if q.Cursor != "" {
		start, err := decodeStartKey(q.Cursor)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = start
	}

	output, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, guarderrors.WrapDynamoDBError(err, s.tableName, fmt.Sprintf("Query:%s", GSIStatus))
	}

	workflows := make([]*Workflow, 0, len(output.Items))
	for _, av := range output.Items {
		var item dynamoItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		wf, err := itemToWorkflow(&item)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}

	next, err := encodeStartKey(output.LastEvaluatedKey)
	if err != nil {
		return nil, err
	}
	return &Page{Workflows: workflows, Next: next}, nil
}

// encodeStartKey turns a LastEvaluatedKey into an opaque cursor. The keys of
// the table and gsi-status are all string attributes.
func encodeStartKey(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(key))
	for name, av := range key {
		sv, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("last evaluated key %q: unsupported attribute type %T", name, av)
		}
		flat[name] = sv.Value
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeStartKey(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil || len(flat) == 0 {
		return nil, ErrInvalidCursor
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for name, v := range flat {
		key[name] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}
