package dynamo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/robot-puzzle-api/internal/domain"
)

// Attribute names. This store writes JSON documents as S attributes holding
// JSON text; records from the earlier handlers hold native L and M values.
const (
	attrUserID       = "userId"
	attrConfigID     = "configId"
	attrWalls        = "walls"
	attrTargets      = "targets"
	attrCreatedAt    = "createdAt"
	attrUpdatedAt    = "updatedAt"
	attrRoundID      = "roundId"
	attrRoundName    = "roundName"
	attrPuzzleStates = "puzzleStates"
	attrAuthorID     = "authorId"
	attrAuthorEmail  = "authorEmail"
	attrMoves        = "moves"
	attrMoveSequence = "moveSequence"
	attrAttemptCount = "attemptCount"
	attrCompletedAt  = "completedAt"
	attrUserEmail    = "userEmail"
	attrEmail        = "email"
	attrUsername     = "username"

	// flat round shape written before puzzleStates existed
	attrInitialRobots   = "initialRobotPositions"
	attrTargetPositions = "targetPositions"
)

// naiveLayout matches timestamps written without a zone; they are UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// profileFixed lists profile attributes that are not client attributes
var profileFixed = map[string]bool{
	attrUserID:    true,
	attrEmail:     true,
	attrUsername:  true,
	attrCreatedAt: true,
	attrUpdatedAt: true,
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func timestamp(t time.Time) types.AttributeValue {
	return str(t.UTC().Format(time.RFC3339Nano))
}

func getS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getN(item map[string]types.AttributeValue, name string) (int, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", name)
	}
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		f, ferr := strconv.ParseFloat(v.Value, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("parsing %s: %w", name, err)
		}
		n = int(f)
	}
	return n, nil
}

// getOptionalN is getN for attributes older records may lack.
func getOptionalN(item map[string]types.AttributeValue, name string) (int, error) {
	if _, ok := item[name]; !ok {
		return 0, nil
	}
	return getN(item, name)
}

func getTime(item map[string]types.AttributeValue, name string) (time.Time, error) {
	s := getS(item, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		naive, nerr := time.ParseInLocation(naiveLayout, s, time.UTC)
		if nerr != nil {
			return time.Time{}, fmt.Errorf("parsing %s: %w", name, err)
		}
		t = naive
	}
	return t.UTC(), nil
}

// getJSON returns an attribute as JSON. S values are this store's JSON text;
// any other type is converted from its native form.
func getJSON(item map[string]types.AttributeValue, name string) (json.RawMessage, error) {
	av, ok := item[name]
	if !ok {
		return nil, nil
	}
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		if v.Value == "" {
			return nil, nil
		}
		return json.RawMessage(v.Value), nil
	}
	return nativeJSON(av, name)
}

func nativeJSON(av types.AttributeValue, name string) (json.RawMessage, error) {
	v, err := plain(av)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return raw, nil
}

// plain converts an attribute value into values encoding/json understands.
// Numbers stay json.Number so they round-trip exactly.
func plain(av types.AttributeValue) (interface{}, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return json.Number(v.Value), nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case *types.AttributeValueMemberBS:
		return v.Value, nil
	case *types.AttributeValueMemberSS:
		return v.Value, nil
	case *types.AttributeValueMemberNS:
		out := make([]json.Number, len(v.Value))
		for i, n := range v.Value {
			out[i] = json.Number(n)
		}
		return out, nil
	case *types.AttributeValueMemberL:
		out := make([]interface{}, len(v.Value))
		for i, e := range v.Value {
			p, err := plain(e)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case *types.AttributeValueMemberM:
		out := make(map[string]interface{}, len(v.Value))
		for k, e := range v.Value {
			p, err := plain(e)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %T", av)
}

func configurationItem(c *domain.Configuration) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUserID:    str(c.UserID),
		attrConfigID:  str(c.ConfigID),
		attrWalls:     str(string(c.Walls)),
		attrTargets:   str(string(c.Targets)),
		attrCreatedAt: timestamp(c.CreatedAt),
		attrUpdatedAt: timestamp(c.UpdatedAt),
	}
}

func configurationFromItem(item map[string]types.AttributeValue) (*domain.Configuration, error) {
	c := &domain.Configuration{
		UserID:   getS(item, attrUserID),
		ConfigID: getS(item, attrConfigID),
	}
	var err error
	if c.Walls, err = getJSON(item, attrWalls); err != nil {
		return nil, err
	}
	if c.Targets, err = getJSON(item, attrTargets); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = getTime(item, attrCreatedAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = getTime(item, attrUpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func roundItem(r *domain.Round) (map[string]types.AttributeValue, error) {
	states, err := json.Marshal(r.PuzzleStates)
	if err != nil {
		return nil, fmt.Errorf("encoding puzzle states: %w", err)
	}
	item := map[string]types.AttributeValue{
		attrRoundID:      str(r.RoundID),
		attrRoundName:    str(r.RoundName),
		attrPuzzleStates: str(string(states)),
		attrAuthorID:     str(r.AuthorID),
		attrAuthorEmail:  str(r.AuthorEmail),
		attrCreatedAt:    timestamp(r.CreatedAt),
	}
	if r.ConfigID != "" {
		item[attrConfigID] = str(r.ConfigID)
	}
	return item, nil
}

func roundFromItem(item map[string]types.AttributeValue) (*domain.Round, error) {
	r := &domain.Round{
		RoundID:     getS(item, attrRoundID),
		RoundName:   getS(item, attrRoundName),
		ConfigID:    getS(item, attrConfigID),
		AuthorID:    getS(item, attrAuthorID),
		AuthorEmail: getS(item, attrAuthorEmail),
	}
	raw, err := getJSON(item, attrPuzzleStates)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &r.PuzzleStates); err != nil {
			return nil, fmt.Errorf("decoding puzzle states: %w", err)
		}
	} else if state, err := legacyState(item); err != nil {
		return nil, err
	} else if state != nil {
		r.PuzzleStates = []domain.PuzzleState{state}
	}
	if r.CreatedAt, err = getTime(item, attrCreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// legacyState reads the flat round fields of records without puzzleStates
func legacyState(item map[string]types.AttributeValue) (domain.PuzzleState, error) {
	var fields [4]json.RawMessage
	for i, name := range []string{attrInitialRobots, attrTargetPositions, attrWalls, attrTargets} {
		raw, err := getJSON(item, name)
		if err != nil {
			return nil, err
		}
		fields[i] = raw
	}
	return domain.LegacyPuzzleState(fields[0], fields[1], fields[2], fields[3]), nil
}

func scoreFromItem(item map[string]types.AttributeValue) (*domain.Score, error) {
	s := &domain.Score{
		RoundID:   getS(item, attrRoundID),
		UserID:    getS(item, attrUserID),
		UserEmail: getS(item, attrUserEmail),
	}
	var err error
	if s.MoveSequence, err = getJSON(item, attrMoveSequence); err != nil {
		return nil, err
	}
	if s.Moves, err = getN(item, attrMoves); err != nil {
		return nil, err
	}
	if s.AttemptCount, err = getOptionalN(item, attrAttemptCount); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = getTime(item, attrCompletedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// profileFromItem reads fixed fields and treats every other attribute as a
// client attribute. S values holding JSON text are taken as is; other S
// values are plain strings from older records.
func profileFromItem(item map[string]types.AttributeValue) (*domain.Profile, error) {
	p := &domain.Profile{
		UserID:     getS(item, attrUserID),
		Email:      getS(item, attrEmail),
		Attributes: make(map[string]json.RawMessage),
	}
	if v, ok := item[attrUsername].(*types.AttributeValueMemberS); ok {
		name := v.Value
		p.Username = &name
	}
	for name, av := range item {
		if profileFixed[name] {
			continue
		}
		if v, ok := av.(*types.AttributeValueMemberS); ok {
			if json.Valid([]byte(v.Value)) {
				p.Attributes[name] = json.RawMessage(v.Value)
				continue
			}
		}
		raw, err := nativeJSON(av, name)
		if err != nil {
			return nil, err
		}
		p.Attributes[name] = raw
	}
	var err error
	if p.CreatedAt, err = getTime(item, attrCreatedAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = getTime(item, attrUpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}
