package quiz

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/victornm/livequiz/internal/domain"
)

type seedQuiz struct {
	QuizID    string            `json:"quizId"`
	OwnerID   string            `json:"ownerId"`
	Title     string            `json:"title"`
	Questions []domain.Question `json:"questions"`
}

// ReadSeed decodes a JSON array of quizzes.
func ReadSeed(r io.Reader) ([]domain.Quiz, error) {
	var raw []seedQuiz
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	quizzes := make([]domain.Quiz, 0, len(raw))
	for i, q := range raw {
		if q.QuizID == "" || q.OwnerID == "" {
			return nil, fmt.Errorf("seed quiz #%d: quizId and ownerId are required", i)
		}
		quizzes = append(quizzes, domain.Quiz{
			QuizID:    q.QuizID,
			OwnerID:   q.OwnerID,
			Title:     q.Title,
			Questions: q.Questions,
		})
	}

	return quizzes, nil
}

// LoadSeedFile builds a Memory store from the quizzes in file.
func LoadSeedFile(file string) (*Memory, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	quizzes, err := ReadSeed(f)
	if err != nil {
		return nil, err
	}

	return NewMemory(quizzes...), nil
}
