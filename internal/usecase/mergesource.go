package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openforge/mergebot/internal/config"
	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/repository"
)

// Title grammar for merge PRs: "Merge <ref>" where <ref> is
// repo:branchOrTag, a bare branchOrTag, or a bare 40-hex hash.
var (
	mergeTitleRegex  = regexp.MustCompile(`^Merge\s+(\S+)\s*$`)
	mergeSourceRegex = regexp.MustCompile(`^([-/\w.]+):([-/\w.]+)$`)
)

// MergeSyntax is the accepted pattern, echoed to the user on grammar
// failures.
const MergeSyntax = "`Merge <project>:<branch>`, `Merge <branch>` or `Merge <hash>`"

// MergeSourceResolver resolves the source expression of a merge PR,
// verifies shared history and that the source contributes at least one
// new commit, and determines the authoritative second parent.
type MergeSourceResolver struct {
	Forge  repository.Forge
	VCS    repository.VCS
	Config *config.Config
}

// IsMergeTitle reports whether the title designates a merge PR.
func IsMergeTitle(title string) bool {
	return strings.HasPrefix(title, "Merge")
}

// Resolve parses the title and resolves it into a MergeSpec.
func (r *MergeSourceResolver) Resolve(ctx context.Context, pr *domain.PullRequestView) (*domain.MergeSpec, error) {
	m := mergeTitleRegex.FindStringSubmatch(strings.TrimSpace(pr.Title))
	if m == nil {
		return nil, fmt.Errorf("%w: the title must match %s", domain.ErrInvalidSyntax, MergeSyntax)
	}
	asGiven := m[1]

	spec := &domain.MergeSpec{AsGiven: asGiven}
	if sm := mergeSourceRegex.FindStringSubmatch(asGiven); sm != nil {
		spec.SourceRepo = sm[1]
		spec.SourceRef = sm[2]
		if !r.Config.SourceAllowed(spec.SourceRepo) {
			return nil, fmt.Errorf("%w: `%s` can not be source repo", domain.ErrSourceNotAllowed, spec.SourceRepo)
		}
	} else {
		// A bare ref resolves within the PR's own source repository.
		spec.SourceRepo = pr.SourceRepo
		spec.SourceRef = asGiven
	}

	tip, err := r.resolveTip(ctx, pr, spec)
	if err != nil {
		return nil, err
	}
	spec.SecondParent = tip

	// The source must share history with the target and contribute at
	// least one commit not already reachable from it.
	if _, err := r.VCS.MergeBase(ctx, pr.TargetHash, tip); err != nil {
		if errors.Is(err, domain.ErrUnrelatedHistory) {
			return nil, fmt.Errorf("%w: `%s` shares no history with %s", domain.ErrUnrelatedHistory, asGiven, pr.TargetRef)
		}
		return nil, err
	}
	alreadyMerged, err := r.VCS.IsAncestor(ctx, tip, pr.TargetHash)
	if err != nil {
		return nil, err
	}
	if alreadyMerged {
		return nil, fmt.Errorf("%w: a merge PR must contain at least one commit from `%s` that is not already present in the target", domain.ErrNoNewCommits, asGiven)
	}
	return spec, nil
}

func (r *MergeSourceResolver) resolveTip(ctx context.Context, pr *domain.PullRequestView,
	spec *domain.MergeSpec) (domain.Hash, error) {
	// A bare hash resolves locally without touching any remote.
	if h := domain.Hash(strings.ToLower(spec.SourceRef)); h.IsValid() && spec.SourceRepo == pr.SourceRepo {
		if tip, err := r.VCS.ResolveRef(ctx, spec.SourceRef); err == nil {
			return tip, nil
		}
	}
	url, err := r.Forge.RepositoryURL(ctx, spec.SourceRepo)
	if err != nil {
		return "", fmt.Errorf("%w: `%s` - check that it is correct", domain.ErrNoSuchProject, spec.SourceRepo)
	}
	tip, err := r.VCS.Fetch(ctx, url, spec.SourceRef)
	if err != nil {
		return "", fmt.Errorf("%w: `%s` in project `%s` - check that they are correct", domain.ErrNoSuchRef, spec.SourceRef, spec.SourceRepo)
	}
	return tip, nil
}

// MergeMessage returns the merge commit message for the spec. Unless
// the target's check configuration restricts merge messages to the
// literal "Merge", the ref is echoed as given.
func MergeMessage(spec *domain.MergeSpec, literalOnly bool) string {
	if literalOnly {
		return "Merge"
	}
	return "Merge " + spec.AsGiven
}
