package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/domain"
)

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.ProfilesTable),
		Key:            map[string]types.AttributeValue{attrUserID: str(userID)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrProfileNotFound
	}
	return profileFromItem(out.Item)
}

// UpsertProfile merges the update into the item in one UpdateItem.
// Client attributes are top-level attributes holding JSON text.
func (s *Store) UpsertProfile(ctx context.Context, id domain.Identity, upd domain.ProfileUpdate, now time.Time) (*domain.Profile, error) {
	expr, names, values := profileUpdateExpression(id, upd, now)
	out, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.ProfilesTable),
		Key:                       map[string]types.AttributeValue{attrUserID: str(id.UserID)},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return profileFromItem(out.Attributes)
}

func profileUpdateExpression(id domain.Identity, upd domain.ProfileUpdate, now time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	names := map[string]string{
		"#email":   attrEmail,
		"#created": attrCreatedAt,
		"#updated": attrUpdatedAt,
	}
	values := map[string]types.AttributeValue{
		":email": str(id.Email),
		":now":   timestamp(now),
	}
	sets := []string{
		"#email = if_not_exists(#email, :email)",
		"#created = if_not_exists(#created, :now)",
		"#updated = :now",
	}

	if upd.Username != nil {
		names["#username"] = attrUsername
		values[":username"] = str(*upd.Username)
		sets = append(sets, "#username = :username")
	}

	// stable placeholder numbering keeps the expression deterministic
	keys := make([]string, 0, len(upd.Attributes))
	for k := range upd.Attributes {
		if profileFixed[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		n := strconv.Itoa(i)
		names["#a"+n] = k
		values[":a"+n] = str(string(upd.Attributes[k]))
		sets = append(sets, "#a"+n+" = :a"+n)
	}

	return "SET " + strings.Join(sets, ", "), names, values
}
