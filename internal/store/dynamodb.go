package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/artisanmarket/callcenter/internal/types"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=memory)")
		return NewMemoryStore(), nil
	}
}

func (s *DynamoDBStore) putItem(ctx context.Context, table string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) getItem(ctx context.Context, table, keyName, keyValue string, out any) error {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]dbtypes.AttributeValue{
			keyName: &dbtypes.AttributeValueMemberS{Value: keyValue},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to get item: %w", err)
	}
	if result.Item == nil {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) PutQueue(ctx context.Context, q types.Queue) error {
	return s.putItem(ctx, s.config.QueuesTable, q)
}

func (s *DynamoDBStore) GetQueue(ctx context.Context, slug string) (*types.Queue, error) {
	var q types.Queue
	if err := s.getItem(ctx, s.config.QueuesTable, "Slug", slug, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *DynamoDBStore) PutAgent(ctx context.Context, a types.Agent) error {
	return s.putItem(ctx, s.config.AgentsTable, a)
}

func (s *DynamoDBStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var a types.Agent
	if err := s.getItem(ctx, s.config.AgentsTable, "ID", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *DynamoDBStore) GetAgents(ctx context.Context, ids []string) ([]types.Agent, error) {
	agents := make([]types.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAgent(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, nil
}

// SetPresence performs the guarded presence transition. The condition
// expression closes the race between concurrent presence writers.
func (s *DynamoDBStore) SetPresence(ctx context.Context, agentID string, from, to types.Presence) error {
	cond := expression.Name("Presence").Equal(expression.Value(from))
	update := expression.Set(expression.Name("Presence"), expression.Value(to))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.AgentsTable),
		Key:                       map[string]dbtypes.AttributeValue{"ID": &dbtypes.AttributeValueMemberS{Value: agentID}},
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return mapConditionErr(err)
}

// ClaimAgent marks an online agent busy and stamps the fairness timestamp
// in a single conditional write.
func (s *DynamoDBStore) ClaimAgent(ctx context.Context, agentID string, at time.Time) error {
	cond := expression.Name("Presence").Equal(expression.Value(types.PresenceOnline))
	update := expression.
		Set(expression.Name("Presence"), expression.Value(types.PresenceBusy)).
		Set(expression.Name("LastAssignedAt"), expression.Value(at))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.AgentsTable),
		Key:                       map[string]dbtypes.AttributeValue{"ID": &dbtypes.AttributeValueMemberS{Value: agentID}},
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return mapConditionErr(err)
}

func (s *DynamoDBStore) PutAssignment(ctx context.Context, a types.QueueAssignment) error {
	return s.putItem(ctx, s.config.AssignmentsTable, a)
}

func (s *DynamoDBStore) GetAssignment(ctx context.Context, id string) (*types.QueueAssignment, error) {
	var a types.QueueAssignment
	if err := s.getItem(ctx, s.config.AssignmentsTable, "ID", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *DynamoDBStore) PutCall(ctx context.Context, c types.Call) error {
	return s.putItem(ctx, s.config.CallsTable, c)
}

func (s *DynamoDBStore) GetCall(ctx context.Context, id string) (*types.Call, error) {
	var c types.Call
	if err := s.getItem(ctx, s.config.CallsTable, "ID", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *DynamoDBStore) PutBalance(ctx context.Context, b types.Balance) error {
	return s.putItem(ctx, s.config.BalancesTable, b)
}

func (s *DynamoDBStore) GetBalance(ctx context.Context, userID string) (*types.Balance, error) {
	var b types.Balance
	if err := s.getItem(ctx, s.config.BalancesTable, "UserID", userID, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitUnit decrements one unit while units remain, atomically
func (s *DynamoDBStore) DebitUnit(ctx context.Context, userID string) error {
	cond := expression.Name("Units").GreaterThan(expression.Value(0))
	update := expression.Add(expression.Name("Units"), expression.Value(-1))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.BalancesTable),
		Key:                       map[string]dbtypes.AttributeValue{"UserID": &dbtypes.AttributeValueMemberS{Value: userID}},
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return mapConditionErr(err)
}

// mapConditionErr translates a DynamoDB conditional check failure into
// ErrConflict so callers can retry against the remaining pool
func mapConditionErr(err error) error {
	if err == nil {
		return nil
	}
	var ccf *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrConflict
	}
	return fmt.Errorf("failed to update item: %w", err)
}
