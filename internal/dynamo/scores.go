package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/domain"
)

func scoreKey(roundID, userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrRoundID: str(roundID),
		attrUserID:  str(userID),
	}
}

// SubmitBest is one conditional UpdateItem: it only applies when no score
// exists yet or the stored move count is higher.
func (s *Store) SubmitBest(ctx context.Context, sub domain.ScoreSubmission, completedAt time.Time) (*domain.SubmitResult, error) {
	out, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.cfg.ScoresTable),
		Key:                 scoreKey(sub.RoundID, sub.UserID),
		UpdateExpression:    aws.String("SET #m = :m, #seq = :seq, #c = :c, #e = :e, #a = if_not_exists(#a, :zero) + :one"),
		ConditionExpression: aws.String("attribute_not_exists(#m) OR #m > :m"),
		ExpressionAttributeNames: map[string]string{
			"#m":   attrMoves,
			"#seq": attrMoveSequence,
			"#c":   attrCompletedAt,
			"#e":   attrUserEmail,
			"#a":   attrAttemptCount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m":    num(sub.Moves),
			":seq":  str(string(sub.MoveSequence)),
			":c":    timestamp(completedAt),
			":e":    str(sub.UserEmail),
			":zero": num(0),
			":one":  num(1),
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		score, err := scoreFromItem(out.Attributes)
		if err != nil {
			return nil, err
		}
		return &domain.SubmitResult{Improved: true, Score: *score, CurrentBest: score.Moves}, nil
	}

	var cfe *types.ConditionalCheckFailedException
	if !errors.As(err, &cfe) {
		return nil, fmt.Errorf("submitting score: %w", err)
	}

	item := cfe.Item
	if len(item) == 0 {
		got, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.cfg.ScoresTable),
			Key:            scoreKey(sub.RoundID, sub.UserID),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("getting score: %w", err)
		}
		item = got.Item
	}
	existing, err := scoreFromItem(item)
	if err != nil {
		return nil, err
	}
	return &domain.SubmitResult{Improved: false, Score: *existing, CurrentBest: existing.Moves}, nil
}

// ListRoundScores queries the leaderboard index in ascending move order
func (s *Store) ListRoundScores(ctx context.Context, roundID string) ([]domain.Score, error) {
	scores, err := s.queryScores(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.ScoresTable),
		IndexName:                 aws.String(s.cfg.LeaderboardIndex),
		KeyConditionExpression:    aws.String("#r = :r"),
		ExpressionAttributeNames:  map[string]string{"#r": attrRoundID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":r": str(roundID)},
		ScanIndexForward:          aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	domain.SortLeaderboard(scores)
	return scores, nil
}

// ListUserScores queries the per-user index
func (s *Store) ListUserScores(ctx context.Context, userID string) ([]domain.Score, error) {
	return s.queryScores(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.ScoresTable),
		IndexName:                 aws.String(s.cfg.UserScoresIndex),
		KeyConditionExpression:    aws.String("#u = :u"),
		ExpressionAttributeNames:  map[string]string{"#u": attrUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": str(userID)},
	})
}

// ListScoredRounds scans round ids out of the scores table
func (s *Store) ListScoredRounds(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	pages := dynamodb.NewScanPaginator(s.ddb, &dynamodb.ScanInput{
		TableName:                aws.String(s.cfg.ScoresTable),
		ProjectionExpression:     aws.String("#r"),
		ExpressionAttributeNames: map[string]string{"#r": attrRoundID},
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning scores: %w", err)
		}
		for _, item := range page.Items {
			seen[getS(item, attrRoundID)] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) queryScores(ctx context.Context, in *dynamodb.QueryInput) ([]domain.Score, error) {
	scores := make([]domain.Score, 0)
	pages := dynamodb.NewQueryPaginator(s.ddb, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying scores: %w", err)
		}
		for _, item := range page.Items {
			score, err := scoreFromItem(item)
			if err != nil {
				return nil, err
			}
			scores = append(scores, *score)
		}
	}
	return scores, nil
}
