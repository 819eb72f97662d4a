package s3

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDB simulates the commit table: conditional puts fail when the
// generation sort key already exists.
type fakeDDB struct {
	mu    sync.Mutex
	items map[uint64]string // generation -> manifest name

	// beforePut runs inside PutItem before the existence check, to
	// simulate a concurrent writer sneaking in between Latest and Commit.
	beforePut func(items map[uint64]string)
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[uint64]string)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.beforePut != nil {
		f.beforePut(f.items)
	}

	genAttr := params.Item["generation"].(*types.AttributeValueMemberN)
	gen, err := strconv.ParseUint(genAttr.Value, 10, 64)
	if err != nil {
		return nil, err
	}

	if _, exists := f.items[gen]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}

	manifest := params.Item["manifest"].(*types.AttributeValueMemberS)
	f.items[gen] = manifest.Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest uint64
	for gen := range f.items {
		if gen > latest {
			latest = gen
		}
	}
	if latest == 0 {
		return &dynamodb.QueryOutput{}, nil
	}

	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"generation": &types.AttributeValueMemberN{Value: strconv.FormatUint(latest, 10)},
			"manifest":   &types.AttributeValueMemberS{Value: f.items[latest]},
		}},
	}, nil
}

func TestCommitStoreEmpty(t *testing.T) {
	cs := NewCommitStore(newFakeDDB(), "cardex-commits", "s3://bucket/cardex")

	gen, manifest, err := cs.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gen)
	assert.Empty(t, manifest)
}

func TestCommitStoreSequence(t *testing.T) {
	ctx := context.Background()
	cs := NewCommitStore(newFakeDDB(), "cardex-commits", "s3://bucket/cardex")

	gen, err := cs.Commit(ctx, "MANIFEST-000001.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	gen, err = cs.Commit(ctx, "MANIFEST-000002.json")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	latest, manifest, err := cs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest)
	assert.Equal(t, "MANIFEST-000002.json", manifest)
}

func TestCommitStoreConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	cs := NewCommitStore(ddb, "cardex-commits", "s3://bucket/cardex")

	_, err := cs.Commit(ctx, "MANIFEST-000001.json")
	require.NoError(t, err)

	// Another writer takes generation 2 between our Latest read and the
	// conditional put.
	ddb.beforePut = func(items map[uint64]string) {
		items[2] = "MANIFEST-theirs.json"
	}

	_, err = cs.Commit(ctx, "MANIFEST-ours.json")
	assert.ErrorIs(t, err, ErrConcurrentCommit)
}
