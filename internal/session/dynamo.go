package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/allopze/cloudbox-wopi/internal/model"
)

// DynamoDBAPI is the subset of *dynamodb.Client methods used by DynamoLocker.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	condAcquire = "attribute_not_exists(file_id) OR expires_at <= :now OR lock_token = :token"
	condHeld    = "lock_token = :token AND expires_at > :now"

	updateRefresh = "SET expires_at = :expires_at, refreshed_at = :refreshed_at, #ttl = :ttl"
	updateRelock  = "SET lock_token = :new_token, user_id = :user_id, expires_at = :expires_at, refreshed_at = :refreshed_at, #ttl = :ttl"
)

// lockItem is the table row. The ttl attribute (Unix seconds) lets DynamoDB
// garbage collect stale rows; expiry decisions only use expires_at.
type lockItem struct {
	model.Lock
	TTL int64 `dynamodbav:"ttl"`
}

// DynamoLocker implements Locker on a DynamoDB table keyed by file_id.
// Every transition is a single conditional write, so any number of host
// instances can share the table.
type DynamoLocker struct {
	client    DynamoDBAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoLocker creates a DynamoLocker. A non-positive ttl selects DefaultTimeout.
func NewDynamoLocker(client DynamoDBAPI, tableName string, ttl time.Duration) *DynamoLocker {
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		ttl:       normalizeTimeout(ttl),
		now:       time.Now,
	}
}

func (d *DynamoLocker) key(fileID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"file_id": &types.AttributeValueMemberS{Value: fileID},
	}
}

func numberAV(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// renewValues are the attribute values shared by refresh and relock.
func (d *DynamoLocker) renewValues(l *model.Lock) (map[string]types.AttributeValue, error) {
	refreshed, err := attributevalue.Marshal(l.RefreshedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refreshed_at: %w", err)
	}
	return map[string]types.AttributeValue{
		":expires_at":   numberAV(l.ExpiresAt),
		":refreshed_at": refreshed,
		":ttl":          numberAV(l.ExpiresAt/1000 + 1),
	}, nil
}

// conflictFrom turns a failed condition into a ConflictError using the item
// DynamoDB returned alongside the failure. ok is false for any other error.
func (d *DynamoLocker) conflictFrom(err error, now time.Time) (conflict error, ok bool) {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil, false
	}
	if len(ccf.Item) == 0 {
		return &ConflictError{Err: ErrLockNotFound}, true
	}
	var item lockItem
	if uerr := attributevalue.UnmarshalMap(ccf.Item, &item); uerr != nil {
		return fmt.Errorf("failed to unmarshal lock: %w", uerr), true
	}
	if !item.Active(now) {
		return &ConflictError{Err: ErrLockNotFound}, true
	}
	return &ConflictError{Err: ErrLockMismatch, Current: item.Token}, true
}

func (d *DynamoLocker) Lock(ctx context.Context, fileID, token, userID string) (*model.Lock, error) {
	now := d.now()
	l := newLock(fileID, token, userID, now, d.ttl)

	item, err := attributevalue.MarshalMap(lockItem{Lock: *l, TTL: l.ExpiresAt/1000 + 1})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String(condAcquire),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   numberAV(now.UnixMilli()),
			":token": &types.AttributeValueMemberS{Value: token},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if cerr, ok := d.conflictFrom(err, now); ok {
			return nil, cerr
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return l, nil
}

func (d *DynamoLocker) update(ctx context.Context, fileID, heldToken, expr string, values map[string]types.AttributeValue, now time.Time) (*model.Lock, error) {
	values[":token"] = &types.AttributeValueMemberS{Value: heldToken}
	values[":now"] = numberAV(now.UnixMilli())

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(d.tableName),
		Key:                                 d.key(fileID),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(condHeld),
		ExpressionAttributeNames:            map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if cerr, ok := d.conflictFrom(err, now); ok {
			return nil, cerr
		}
		return nil, fmt.Errorf("failed to update lock: %w", err)
	}

	var item lockItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &item.Lock, nil
}

func (d *DynamoLocker) RefreshLock(ctx context.Context, fileID, token string) (*model.Lock, error) {
	now := d.now()
	values, err := d.renewValues(newLock(fileID, token, "", now, d.ttl))
	if err != nil {
		return nil, err
	}
	return d.update(ctx, fileID, token, updateRefresh, values, now)
}

func (d *DynamoLocker) UnlockAndRelock(ctx context.Context, fileID, oldToken, newToken, userID string) (*model.Lock, error) {
	now := d.now()
	values, err := d.renewValues(newLock(fileID, newToken, userID, now, d.ttl))
	if err != nil {
		return nil, err
	}
	values[":new_token"] = &types.AttributeValueMemberS{Value: newToken}
	values[":user_id"] = &types.AttributeValueMemberS{Value: userID}
	return d.update(ctx, fileID, oldToken, updateRelock, values, now)
}

func (d *DynamoLocker) Unlock(ctx context.Context, fileID, token string) error {
	now := d.now()
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.key(fileID),
		ConditionExpression: aws.String(condHeld),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   numberAV(now.UnixMilli()),
			":token": &types.AttributeValueMemberS{Value: token},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if cerr, ok := d.conflictFrom(err, now); ok {
			return cerr
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (d *DynamoLocker) GetLock(ctx context.Context, fileID string) (*model.Lock, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(fileID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item lockItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	if !item.Active(d.now()) {
		return nil, nil
	}
	return &item.Lock, nil
}
