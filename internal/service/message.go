package service

import (
	"github.com/openforge/mergebot/internal/domain"
)

// MessageService builds and parses final commit messages. The rendered
// text is a wire-format contract: Parse(Synthesize(m)) must recover m
// exactly.
type MessageService interface {
	Synthesize(message *domain.CommitMessage) string
	Parse(text string) (*domain.CommitMessage, error)
}
