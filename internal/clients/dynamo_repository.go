package clients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/conversation"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

const dynamoMergeRetries = 3

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// clientRecord is the single-item representation of a client. Revision guards
// read-modify-write merges with a conditional put.
type clientRecord struct {
	ClientID      string               `dynamodbav:"clientId"`
	Phone         string               `dynamodbav:"phone"`
	Name          string               `dynamodbav:"name"`
	Messages      []Message            `dynamodbav:"messages,omitempty"`
	Context       conversation.Context `dynamodbav:"context"`
	CreatedAt     time.Time            `dynamodbav:"createdAt"`
	LastMessageAt time.Time            `dynamodbav:"lastMessageAt"`
	Revision      int64                `dynamodbav:"revision"`
}

// DynamoRepository keeps each client as one DynamoDB item. Message merges are
// read-modify-write under a revision condition, retried on contention, so the
// union property holds across concurrent writers.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDynamoRepository(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRepository {
	if client == nil {
		panic("clients: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("clients: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRepository{client: client, tableName: tableName, logger: logger}
}

func (r *DynamoRepository) List(ctx context.Context) ([]Client, error) {
	var out []Client
	var startKey map[string]types.AttributeValue
	for {
		resp, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("clients: scan failed: %w", err)
		}
		for _, item := range resp.Items {
			var rec clientRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("clients: failed to decode client item: %w", err)
			}
			out = append(out, rec.toClient())
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (r *DynamoRepository) Get(ctx context.Context, id string) (*Client, error) {
	rec, err := r.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	c := rec.toClient()
	return &c, nil
}

func (r *DynamoRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*Client, bool, error) {
	// Lead volume is small enough that a filtered scan beats maintaining a
	// phone index. Synced clients are keyed by their number, so match the
	// item key too.
	resp, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("phone = :phone OR clientId = :phone"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phone": &types.AttributeValueMemberS{Value: phone},
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("clients: phone lookup failed: %w", err)
	}
	if len(resp.Items) > 0 {
		var rec clientRecord
		if err := attributevalue.UnmarshalMap(resp.Items[0], &rec); err != nil {
			return nil, false, fmt.Errorf("clients: failed to decode client item: %w", err)
		}
		c := rec.toClient()
		return &c, false, nil
	}

	now := time.Now().UTC()
	rec := clientRecord{
		ClientID:      uuid.New().String(),
		Phone:         phone,
		Name:          DefaultName(phone),
		Context:       conversation.NewContext(),
		CreatedAt:     now,
		LastMessageAt: now,
		Revision:      1,
	}
	if err := r.putRecord(ctx, rec, aws.String("attribute_not_exists(clientId)"), nil); err != nil {
		return nil, false, err
	}
	c := rec.toClient()
	return &c, true, nil
}

func (r *DynamoRepository) AppendMessage(ctx context.Context, clientID string, msg Message) (bool, error) {
	for attempt := 0; attempt < dynamoMergeRetries; attempt++ {
		rec, err := r.getRecord(ctx, clientID)
		if err != nil {
			return false, err
		}
		for _, existing := range rec.Messages {
			if existing.ID == msg.ID {
				return false, nil
			}
		}
		rec.Messages = append(rec.Messages, msg)
		if msg.Timestamp.After(rec.LastMessageAt) {
			rec.LastMessageAt = msg.Timestamp
		}

		err = r.putRevision(ctx, rec)
		if err == nil {
			return true, nil
		}
		if !isConditionFailure(err) {
			return false, err
		}
		r.logger.Debug("append lost a merge race, retrying", "client_id", clientID, "attempt", attempt+1)
	}
	return false, fmt.Errorf("clients: append contention on client %s", clientID)
}

func (r *DynamoRepository) UpdateContext(ctx context.Context, clientID string, cc conversation.Context) error {
	for attempt := 0; attempt < dynamoMergeRetries; attempt++ {
		rec, err := r.getRecord(ctx, clientID)
		if err != nil {
			return err
		}
		rec.Context = cc

		err = r.putRevision(ctx, rec)
		if err == nil {
			return nil
		}
		if !isConditionFailure(err) {
			return err
		}
	}
	return fmt.Errorf("clients: context contention on client %s", clientID)
}

func (r *DynamoRepository) SaveBatch(ctx context.Context, batch []Client) error {
	if len(batch) == 0 {
		return nil
	}

	for _, incoming := range batch {
		if err := r.mergeClient(ctx, incoming); err != nil {
			return err
		}
	}
	return nil
}

func (r *DynamoRepository) mergeClient(ctx context.Context, incoming Client) error {
	normalizeIdentity(&incoming)
	for attempt := 0; attempt < dynamoMergeRetries; attempt++ {
		rec, err := r.getRecord(ctx, incoming.ID)
		if errors.Is(err, ErrClientNotFound) {
			fresh := recordFromClient(incoming)
			fresh.Revision = 1
			err = r.putRecord(ctx, fresh, aws.String("attribute_not_exists(clientId)"), nil)
			if err == nil {
				return nil
			}
			if !isConditionFailure(err) {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		rec.Name = incoming.Name
		rec.Context = incoming.Context
		rec.Messages = mergeMessages(rec.Messages, incoming.Messages)
		if incoming.Phone != "" {
			rec.Phone = incoming.Phone
		}
		if incoming.LastMessageAt.After(rec.LastMessageAt) {
			rec.LastMessageAt = incoming.LastMessageAt
		}

		err = r.putRevision(ctx, rec)
		if err == nil {
			return nil
		}
		if !isConditionFailure(err) {
			return err
		}
	}
	return fmt.Errorf("clients: merge contention on client %s", incoming.ID)
}

func (r *DynamoRepository) getRecord(ctx context.Context, id string) (clientRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"clientId": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return clientRecord{}, fmt.Errorf("clients: failed to fetch client: %w", err)
	}
	if out.Item == nil {
		return clientRecord{}, ErrClientNotFound
	}

	var rec clientRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return clientRecord{}, fmt.Errorf("clients: failed to decode client: %w", err)
	}
	return rec, nil
}

// putRevision writes the record with the revision bumped, conditional on the
// stored revision being the one we read.
func (r *DynamoRepository) putRevision(ctx context.Context, rec clientRecord) error {
	expected := rec.Revision
	rec.Revision++
	return r.putRecord(ctx, rec,
		aws.String("revision = :rev"),
		map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expected)},
		})
}

func (r *DynamoRepository) putRecord(ctx context.Context, rec clientRecord, condition *string, values map[string]types.AttributeValue) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("clients: failed to marshal client: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      item,
		ConditionExpression:       condition,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailure(err) {
			return err
		}
		return fmt.Errorf("clients: failed to persist client: %w", err)
	}
	return nil
}

func isConditionFailure(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}

func (rec clientRecord) toClient() Client {
	c := Client{
		ID:            rec.ClientID,
		Phone:         rec.Phone,
		Name:          rec.Name,
		Messages:      rec.Messages,
		Context:       rec.Context,
		CreatedAt:     rec.CreatedAt,
		LastMessageAt: rec.LastMessageAt,
	}
	if c.Context.Stage == "" {
		c.Context = conversation.NewContext()
	}
	return c
}

func recordFromClient(c Client) clientRecord {
	return clientRecord{
		ClientID:      c.ID,
		Phone:         c.Phone,
		Name:          c.Name,
		Messages:      c.Messages,
		Context:       c.Context,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}
