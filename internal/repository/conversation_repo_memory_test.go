package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aihub/genai-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConversation_CreateHasExactlyOneBootstrapTurn(t *testing.T) {
	store := NewMemoryConversationRepository()

	conv, err := store.FetchOrCreate(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, 1, conv.Len())
	assert.Equal(t, models.BootstrapHumanMessage, conv.HumanMessages[0])
	assert.Equal(t, models.BootstrapAIMessage, conv.AIMessages[0])
}

func TestMemoryConversation_SerializedAppendsGrowByOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		loaded, err := store.FetchOrCreate(ctx, &conv.ID)
		require.NoError(t, err)
		loaded.AppendTurn(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		require.NoError(t, store.Persist(ctx, loaded))
	}

	final, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, n+1, len(final.HumanMessages))
	assert.Equal(t, n+1, len(final.AIMessages))
	assert.Equal(t, "q4", final.HumanMessages[n])
	assert.Equal(t, "a4", final.AIMessages[n])
}

func TestMemoryConversation_FetchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	first, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	second, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMemoryConversation_PersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	before, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	require.NoError(t, store.Persist(ctx, before))

	after, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMemoryConversation_UnknownIDIsNotFoundAndNotCreated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()

	id := "6c1d7d0a-2a43-4b59-8f0e-21b4d0f7e9aa"
	_, err := store.FetchOrCreate(ctx, &id)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryConversation_MalformedID(t *testing.T) {
	store := NewMemoryConversationRepository()
	id := "12345"
	_, err := store.FetchOrCreate(context.Background(), &id)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestMemoryConversation_CallerMutationDoesNotLeak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	conv.AppendTurn("unsaved", "unsaved")

	stored, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Len())
}

func TestMemoryConversation_ConcurrentAppendTurnKeepsEveryTurn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendTurn(ctx, conv.ID, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, len(final.HumanMessages))
	assert.Equal(t, workers+1, len(final.AIMessages))
	for i, human := range final.HumanMessages[1:] {
		var n int
		_, err := fmt.Sscanf(human, "q%d", &n)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("a%d", n), final.AIMessages[i+1])
	}
}

func TestMemoryConversation_PersistIsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()
	conv, err := store.FetchOrCreate(ctx, nil)
	require.NoError(t, err)

	first, _ := store.FetchOrCreate(ctx, &conv.ID)
	second, _ := store.FetchOrCreate(ctx, &conv.ID)
	first.AppendTurn("from first", "answer one")
	second.AppendTurn("from second", "answer two")

	require.NoError(t, store.Persist(ctx, first))
	require.NoError(t, store.Persist(ctx, second))

	final, err := store.FetchOrCreate(ctx, &conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Len())
	assert.Equal(t, "from second", final.HumanMessages[1])
}

func TestMemoryConversation_ListIDsInCreationOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConversationRepository()

	var created []string
	for i := 0; i < 3; i++ {
		conv, err := store.FetchOrCreate(ctx, nil)
		require.NoError(t, err)
		created = append(created, conv.ID)
	}

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, created, ids)
}
