// Package dynamo keeps the sync watermark in a DynamoDB table, for deployments
// where the pass runs in Lambda and has no local disk to hold it.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"emails-sync/internal/logging"
	"emails-sync/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	idField          = "Id"
	dateField        = "LastProcessedDate"
	uidField         = "LastUid"
	uidValidityField = "UidValidity"
	updatedField     = "UpdatedAt"

	maxWriteAttempts = 3
)

// API is the part of the DynamoDB client the watermark store needs
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// WatermarkStore reads and advances one watermark item
type WatermarkStore struct {
	api   API
	table string
	key   string
	now   func() time.Time
}

// NewWatermarkStore loads the default AWS configuration for region
func NewWatermarkStore(ctx context.Context, region, table, key string) (*WatermarkStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewWatermarkStoreWithAPI(dynamodb.NewFromConfig(cfg), table, key), nil
}

// NewWatermarkStoreWithAPI creates a store over an existing client
func NewWatermarkStoreWithAPI(api API, table, key string) *WatermarkStore {
	return &WatermarkStore{
		api:   api,
		table: table,
		key:   key,
		now:   time.Now,
	}
}

// Read returns the stored watermark, or the zero Watermark when the item is missing
func (s *WatermarkStore) Read(ctx context.Context) (models.Watermark, error) {
	w, _, err := s.read(ctx)
	return w, err
}

func (s *WatermarkStore) read(ctx context.Context) (models.Watermark, string, error) {
	res, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Watermark{}, "", fmt.Errorf("getting watermark %s: %w", s.key, err)
	}
	if len(res.Item) == 0 {
		return models.Watermark{}, "", nil
	}

	w, err := decodeItem(res.Item)
	if err != nil {
		return models.Watermark{}, "", fmt.Errorf("decoding watermark %s: %w", s.key, err)
	}

	return w, stringAttr(res.Item, updatedField), nil
}

// Advance stores max(current, w). Writes are conditional on the item not having
// changed since it was read, so two concurrent passes cannot lower it.
func (s *WatermarkStore) Advance(ctx context.Context, w models.Watermark) error {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, version, err := s.read(ctx)
		if err != nil {
			return err
		}

		next := current.Max(w)
		next.UpdatedAt = s.now().UTC()

		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      s.encodeItem(next),
		}
		if version == "" {
			input.ConditionExpression = aws.String(fmt.Sprintf("attribute_not_exists(%s)", idField))
		} else {
			input.ConditionExpression = aws.String(fmt.Sprintf("%s = :prev", updatedField))
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":prev": &types.AttributeValueMemberS{Value: version},
			}
		}

		_, err = s.api.PutItem(ctx, input)
		if err == nil {
			return nil
		}

		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return fmt.Errorf("putting watermark %s: %w", s.key, err)
		}

		lastErr = err
		logging.Log.WithField("attempt", attempt).Warnf("Watermark %s changed concurrently, retrying", s.key)
	}

	return fmt.Errorf("putting watermark %s: %w", s.key, lastErr)
}

func (s *WatermarkStore) itemKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		idField: &types.AttributeValueMemberS{Value: s.key},
	}
}

func (s *WatermarkStore) encodeItem(w models.Watermark) map[string]types.AttributeValue {
	item := s.itemKey()
	item[dateField] = &types.AttributeValueMemberS{Value: w.Timestamp.UTC().Format(time.RFC3339Nano)}
	item[uidField] = &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(w.UID), 10)}
	item[uidValidityField] = &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(w.UIDValidity), 10)}
	item[updatedField] = &types.AttributeValueMemberS{Value: w.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	return item
}

func decodeItem(item map[string]types.AttributeValue) (models.Watermark, error) {
	var (
		w   models.Watermark
		err error
	)

	if v := stringAttr(item, dateField); v != "" {
		if w.Timestamp, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return models.Watermark{}, fmt.Errorf("%s: %w", dateField, err)
		}
	}
	if v := stringAttr(item, updatedField); v != "" {
		if w.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return models.Watermark{}, fmt.Errorf("%s: %w", updatedField, err)
		}
	}
	if w.UID, err = uint32Attr(item, uidField); err != nil {
		return models.Watermark{}, err
	}
	if w.UIDValidity, err = uint32Attr(item, uidValidityField); err != nil {
		return models.Watermark{}, err
	}

	return w, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func uint32Attr(item map[string]types.AttributeValue, name string) (uint32, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v.Value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return uint32(n), nil
}
