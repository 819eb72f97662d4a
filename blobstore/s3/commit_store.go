package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer committed the same
// generation first.
var ErrConcurrentCommit = errors.New("concurrent checkpoint commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore records committed checkpoint generations in DynamoDB.
//
// S3 has no atomic compare-and-swap, so a mirrored checkpoint is committed
// by a conditional DynamoDB write instead: the artifacts are uploaded
// first, then the generation row is inserted. Readers resolve the latest
// generation from DynamoDB and only then fetch its manifest from S3.
//
// Table schema:
//   - Partition key: mirror_uri (string), the S3 bucket/prefix
//   - Sort key: generation (number), monotonically increasing
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name cardex-commits \
//	  --attribute-definitions AttributeName=mirror_uri,AttributeType=S AttributeName=generation,AttributeType=N \
//	  --key-schema AttributeName=mirror_uri,KeyType=HASH AttributeName=generation,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	client    DDBClient
	tableName string
	mirrorURI string
}

// NewCommitStore creates a commit store. mirrorURI is the
// "s3://bucket/prefix" the markers belong to; it is the partition key.
func NewCommitStore(client DDBClient, tableName, mirrorURI string) *CommitStore {
	return &CommitStore{
		client:    client,
		tableName: tableName,
		mirrorURI: mirrorURI,
	}
}

// Latest returns the newest committed generation and its manifest name.
// A zero generation means nothing has been committed yet.
func (s *CommitStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("mirror_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.mirrorURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	genAttr, ok := item["generation"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid generation attribute in commit table")
	}
	manifestAttr, ok := item["manifest"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid manifest attribute in commit table")
	}

	var generation uint64
	if _, err := fmt.Sscanf(genAttr.Value, "%d", &generation); err != nil {
		return 0, "", fmt.Errorf("failed to parse generation: %w", err)
	}

	return generation, manifestAttr.Value, nil
}

// Commit records manifestName as the next generation. The conditional put
// fails with ErrConcurrentCommit if another writer took the generation.
func (s *CommitStore) Commit(ctx context.Context, manifestName string) (uint64, error) {
	current, _, err := s.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"mirror_uri": &types.AttributeValueMemberS{Value: s.mirrorURI},
			"generation": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next)},
			"manifest":   &types.AttributeValueMemberS{Value: manifestName},
		},
		ConditionExpression: aws.String("attribute_not_exists(generation)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("failed to commit generation: %w", err)
	}

	return next, nil
}
