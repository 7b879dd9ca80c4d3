package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openforge/mergebot/internal/domain"
)

// messageService implements the commit message wire format:
//
//	<issue lines "ID: Title">, or a plain title when no issue is linked
//	(blank)
//	<summary lines>                        (omitted when empty)
//	(blank)
//	Co-authored-by: Name <email>           (one line per contributor)
//	Reviewed-by: a, b                      (role weight desc, then time)
//	Backport-of: <40-hex>                  (backports only)
//	<additional lines verbatim>
type messageService struct{}

// NewMessageService creates a MessageService.
func NewMessageService() MessageService {
	return &messageService{}
}

// Issue ids are numeric with an optional uppercase project prefix; a
// looser pattern would mistake titles like "Fix: typo" for issue lines
// and break the synthesize/parse round trip.
var (
	issueLineRegex      = regexp.MustCompile(`^((?:[A-Z][A-Z0-9]*-)?\d+): (.+)$`)
	coAuthorLineRegex   = regexp.MustCompile(`^Co-authored-by: (.+)$`)
	reviewedByLineRegex = regexp.MustCompile(`^Reviewed-by: (.+)$`)
	backportOfLineRegex = regexp.MustCompile(`^Backport-of: ([0-9a-f]{40})$`)
)

var trailerKeys = map[string]bool{
	"Co-authored-by": true,
	"Reviewed-by":    true,
	"Backport-of":    true,
}

func isTrailer(line string) bool {
	key, _, ok := strings.Cut(line, ":")
	return ok && trailerKeys[key]
}

// Synthesize renders the commit message.
func (s *messageService) Synthesize(m *domain.CommitMessage) string {
	var lines []string
	if len(m.Issues) > 0 {
		for _, issue := range m.Issues {
			lines = append(lines, issue.String())
		}
	} else {
		lines = append(lines, m.Title)
	}
	if len(m.Summaries) > 0 {
		lines = append(lines, "")
		lines = append(lines, m.Summaries...)
	}
	var trailers []string
	for _, contributor := range m.Contributors {
		trailers = append(trailers, "Co-authored-by: "+contributor.String())
	}
	if len(m.Reviewers) > 0 {
		trailers = append(trailers, "Reviewed-by: "+strings.Join(m.Reviewers, ", "))
	}
	if m.Original != "" {
		trailers = append(trailers, "Backport-of: "+string(m.Original))
	}
	if len(trailers) > 0 {
		lines = append(lines, "")
		lines = append(lines, trailers...)
	}
	lines = append(lines, m.Additional...)
	return strings.Join(lines, "\n")
}

// Parse recovers the structured message from rendered text.
func (s *messageService) Parse(text string) (*domain.CommitMessage, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("empty commit message")
	}
	m := &domain.CommitMessage{}
	i := 0
	for i < len(lines) {
		match := issueLineRegex.FindStringSubmatch(lines[i])
		if match == nil || isTrailer(lines[i]) {
			break
		}
		m.Issues = append(m.Issues, domain.IssueRef{ID: match[1], Title: match[2]})
		i++
	}
	if len(m.Issues) == 0 {
		m.Title = lines[0]
		i = 1
	}
	// Skip the separator before the summary block, when present.
	if i < len(lines) && lines[i] == "" {
		i++
	}
	for i < len(lines) && lines[i] != "" && !isTrailer(lines[i]) {
		m.Summaries = append(m.Summaries, lines[i])
		i++
	}
	if i < len(lines) && lines[i] == "" {
		i++
	}
	for i < len(lines) {
		line := lines[i]
		if match := coAuthorLineRegex.FindStringSubmatch(line); match != nil {
			m.Contributors = append(m.Contributors, domain.ParseAuthor(match[1]))
			i++
			continue
		}
		if match := reviewedByLineRegex.FindStringSubmatch(line); match != nil {
			m.Reviewers = strings.Split(match[1], ", ")
			i++
			continue
		}
		if match := backportOfLineRegex.FindStringSubmatch(line); match != nil {
			m.Original = domain.Hash(match[1])
			i++
			continue
		}
		break
	}
	m.Additional = append(m.Additional, lines[i:]...)
	if len(m.Additional) == 0 {
		m.Additional = nil
	}
	return m, nil
}
