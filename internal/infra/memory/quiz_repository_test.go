package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/dependencies/mocks"
	"live-quiz-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute, nil)

	_, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())

	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load(), "expected cache hit")
}

func TestQuizRepositoryExpires(t *testing.T) {
	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
	}
	repo := NewQuizRepository(loader, time.Minute, clk)

	_, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)

	// beyond TTL plus the maximum 10% jitter
	clk.Advance(2 * time.Minute)
	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())

	repo.Invalidate("quiz-1")
	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, loader.calls.Load())
}

func TestQuizRepositoryConcurrentMissesLoadOnce(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
		gate:       release,
	}
	repo := NewQuizRepository(loader, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.GetQuiz(context.Background(), "quiz-1")
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestQuizRepositoryNotFound(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(nil), time.Minute, nil)
	_, err := repo.GetQuiz(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
}

type countingLoader struct {
	QuizLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
		},
	}
}
