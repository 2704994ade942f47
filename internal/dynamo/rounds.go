package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/domain"
)

func roundKey(roundID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrRoundID: str(roundID)}
}

// CreateRound puts the round unless the id already exists
func (s *Store) CreateRound(ctx context.Context, round *domain.Round) error {
	item, err := roundItem(round)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.cfg.RoundsTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrRoundID},
	})
	if isConditionFailed(err) {
		return domain.ErrRoundExists
	}
	if err != nil {
		return fmt.Errorf("creating round: %w", err)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (*domain.Round, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.RoundsTable),
		Key:            roundKey(roundID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting round: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrRoundNotFound
	}
	return roundFromItem(out.Item)
}

// ListRounds scans the whole table and orders newest first
func (s *Store) ListRounds(ctx context.Context) ([]domain.Round, error) {
	rounds := make([]domain.Round, 0)
	pages := dynamodb.NewScanPaginator(s.ddb, &dynamodb.ScanInput{
		TableName: aws.String(s.cfg.RoundsTable),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning rounds: %w", err)
		}
		for _, item := range page.Items {
			r, err := roundFromItem(item)
			if err != nil {
				return nil, err
			}
			rounds = append(rounds, *r)
		}
	}
	domain.SortRounds(rounds)
	return rounds, nil
}

func (s *Store) DeleteRound(ctx context.Context, roundID string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.cfg.RoundsTable),
		Key:                      roundKey(roundID),
		ConditionExpression:      aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": attrRoundID},
	})
	if isConditionFailed(err) {
		return domain.ErrRoundNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting round: %w", err)
	}
	return nil
}
