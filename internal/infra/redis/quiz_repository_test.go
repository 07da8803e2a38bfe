package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())
	assert.True(t, mr.Exists("quiz:quiz-1:content"))

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())
	assert.Equal(t, quiz, cached, "cached quiz keeps prompts and options")

	ttl := mr.TTL("quiz:quiz-1:content")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+6*time.Second)
}

func TestQuizRepositorySharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	first := NewQuizRepository(newClient(mr), loader, time.Minute)
	second := NewQuizRepository(newClient(mr), loader, time.Minute)

	_, err := first.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	_, err = second.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())

	require.NoError(t, second.Invalidate(context.Background(), "quiz-1"))
	_, err = first.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestQuizRepositoryIgnoresCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("quiz:quiz-1:content", "{not json"))
	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "quiz-1", quiz.ID)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestQuizRepositoryLoaderError(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)

	_, err := repo.GetQuiz(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.False(t, mr.Exists("quiz:missing:content"))
}

type countingLoader struct {
	memory.QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points:           1,
				TimeLimitSeconds: 20,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
