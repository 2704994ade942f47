package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/domain"
)

func configKey(userID, configID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:   str(userID),
		attrConfigID: str(configID),
	}
}

// ListConfigurations queries every configuration of the owner
func (s *Store) ListConfigurations(ctx context.Context, userID string) ([]domain.Configuration, error) {
	items, err := s.queryOwner(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	configs := make([]domain.Configuration, 0, len(items))
	for _, item := range items {
		c, err := configurationFromItem(item)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	domain.SortConfigurations(configs)
	return configs, nil
}

func (s *Store) queryOwner(ctx context.Context, userID, projection string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.ConfigurationsTable),
		KeyConditionExpression:    aws.String("#u = :u"),
		ExpressionAttributeNames:  map[string]string{"#u": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": str(userID)},
		ConsistentRead:            aws.Bool(true),
	}
	if projection != "" {
		in.ProjectionExpression = aws.String("#p")
		in.ExpressionAttributeNames["#p"] = projection
	}

	var items []map[string]types.AttributeValue
	pages := dynamodb.NewQueryPaginator(s.ddb, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying configurations: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// GetConfiguration reads one configuration
func (s *Store) GetConfiguration(ctx context.Context, userID, configID string) (*domain.Configuration, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.ConfigurationsTable),
		Key:            configKey(userID, configID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting configuration: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrConfigurationNotFound
	}
	return configurationFromItem(out.Item)
}

// CreateConfiguration writes under max id + 1, guarded by attribute_not_exists
func (s *Store) CreateConfiguration(ctx context.Context, userID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	items, err := s.queryOwner(ctx, userID, attrConfigID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, getS(item, attrConfigID))
	}

	c := &domain.Configuration{
		UserID:    userID,
		ConfigID:  domain.NextConfigID(ids),
		Walls:     in.Walls,
		Targets:   in.Targets,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.cfg.ConfigurationsTable),
		Item:                     configurationItem(c),
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrConfigID},
	})
	if isConditionFailed(err) {
		return nil, domain.ErrConfigurationConflict
	}
	if err != nil {
		return nil, fmt.Errorf("creating configuration: %w", err)
	}
	return c, nil
}

// UpdateConfiguration replaces walls and targets of an existing configuration
func (s *Store) UpdateConfiguration(ctx context.Context, userID, configID string, in domain.ConfigurationInput, now time.Time) (*domain.Configuration, error) {
	out, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.cfg.ConfigurationsTable),
		Key:                 configKey(userID, configID),
		UpdateExpression:    aws.String("SET #w = :w, #t = :t, #u = :now"),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrConfigID,
			"#w": attrWalls,
			"#t": attrTargets,
			"#u": attrUpdatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":w":   str(string(in.Walls)),
			":t":   str(string(in.Targets)),
			":now": timestamp(now),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, domain.ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating configuration: %w", err)
	}
	return configurationFromItem(out.Attributes)
}

// DeleteConfiguration removes a configuration that exists
func (s *Store) DeleteConfiguration(ctx context.Context, userID, configID string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.cfg.ConfigurationsTable),
		Key:                      configKey(userID, configID),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrConfigID},
	})
	if isConditionFailed(err) {
		return domain.ErrConfigurationNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting configuration: %w", err)
	}
	return nil
}
