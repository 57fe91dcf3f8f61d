package store

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal  DynamoMode = "local"
	DynamoModeAWS    DynamoMode = "aws"
	DynamoModeMemory DynamoMode = "memory"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode             DynamoMode
	Endpoint         string // for local mode
	Region           string
	QueuesTable      string
	AgentsTable      string
	AssignmentsTable string
	CallsTable       string
	BalancesTable    string
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "memory"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeMemory
	}

	return DynamoConfig{
		Mode:             mode,
		Endpoint:         getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:           getEnv("DYNAMO_REGION", "eu-central-1"),
		QueuesTable:      getEnv("DYNAMO_QUEUES_TABLE", "callcenter-queues"),
		AgentsTable:      getEnv("DYNAMO_AGENTS_TABLE", "callcenter-agents"),
		AssignmentsTable: getEnv("DYNAMO_ASSIGNMENTS_TABLE", "callcenter-assignments"),
		CallsTable:       getEnv("DYNAMO_CALLS_TABLE", "callcenter-calls"),
		BalancesTable:    getEnv("DYNAMO_BALANCES_TABLE", "callcenter-balances"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
