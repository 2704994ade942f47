// Package dynamo stores every resource in DynamoDB, one table per resource.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/config"
	"github.com/robot-puzzle-api/internal/domain"
)

// Store is a DynamoDB-backed domain.Store
type Store struct {
	ddb    *dynamodb.Client
	cfg    config.DynamoDBConfig
	logger *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// NewStore builds a client from cfg. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewStore(ctx context.Context, cfg *config.DynamoDBConfig, logger *slog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s := &Store{ddb: client, cfg: *cfg, logger: logger}
	if cfg.CreateTables {
		if err := s.EnsureTables(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ping checks that the configurations table is reachable
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.cfg.ConfigurationsTable),
	})
	if err != nil {
		return fmt.Errorf("describing %s: %w", s.cfg.ConfigurationsTable, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections to release.
func (s *Store) Close() {}

// EnsureTables creates any missing table with its indexes
func (s *Store) EnsureTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{
		{
			TableName: aws.String(s.cfg.ConfigurationsTable),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrUserID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrConfigID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrUserID), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrConfigID), KeyType: types.KeyTypeRange},
			},
		},
		{
			TableName: aws.String(s.cfg.RoundsTable),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrRoundID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrRoundID), KeyType: types.KeyTypeHash},
			},
		},
		{
			TableName: aws.String(s.cfg.ScoresTable),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrRoundID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrUserID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(attrMoves), AttributeType: types.ScalarAttributeTypeN},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrRoundID), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrUserID), KeyType: types.KeyTypeRange},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				{
					IndexName: aws.String(s.cfg.LeaderboardIndex),
					KeySchema: []types.KeySchemaElement{
						{AttributeName: aws.String(attrRoundID), KeyType: types.KeyTypeHash},
						{AttributeName: aws.String(attrMoves), KeyType: types.KeyTypeRange},
					},
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
				{
					IndexName: aws.String(s.cfg.UserScoresIndex),
					KeySchema: []types.KeySchemaElement{
						{AttributeName: aws.String(attrUserID), KeyType: types.KeyTypeHash},
						{AttributeName: aws.String(attrRoundID), KeyType: types.KeyTypeRange},
					},
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			},
		},
		{
			TableName: aws.String(s.cfg.ProfilesTable),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(attrUserID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrUserID), KeyType: types.KeyTypeHash},
			},
		},
	}

	for _, in := range tables {
		if err := s.ensureTable(ctx, in); err != nil {
			return err
		}
	}
	s.logger.Info("dynamodb tables ready")
	return nil
}

func (s *Store) ensureTable(ctx context.Context, in *dynamodb.CreateTableInput) error {
	name := aws.ToString(in.TableName)
	_, err := s.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describing table %s: %w", name, err)
	}

	in.BillingMode = types.BillingModePayPerRequest
	if _, err := s.ddb.CreateTable(ctx, in); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.ddb)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, 2*time.Minute); err != nil {
		return fmt.Errorf("waiting for table %s: %w", name, err)
	}
	s.logger.Info("created dynamodb table", "table", name)
	return nil
}

func isConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}
