package repository

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/openforge/mergebot/internal/domain"
)

// gitVCS is the go-git implementation of the VCS interface.
type gitVCS struct {
	repo *git.Repository
}

// NewGitVCS opens a local materialization of the managed repository.
func NewGitVCS(path string) (VCS, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	return &gitVCS{repo: repo}, nil
}

// NewGitVCSFromRepo wraps an already-open repository. Tests use this
// with in-memory storage.
func NewGitVCSFromRepo(repo *git.Repository) VCS {
	return &gitVCS{repo: repo}
}

// ResolveRef resolves a branch, tag or hash expression to a commit hash.
func (r *gitVCS) ResolveRef(_ context.Context, name string) (domain.Hash, error) {
	if h := domain.Hash(strings.ToLower(name)); h.IsValid() {
		if _, err := r.repo.CommitObject(plumbing.NewHash(name)); err == nil {
			return h, nil
		}
		return "", fmt.Errorf("%w: %s", domain.ErrNoSuchRef, name)
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrNoSuchRef, name)
	}
	// Peel annotated tags down to the commit.
	if tag, err := r.repo.TagObject(*hash); err == nil {
		commit, err := tag.Commit()
		if err != nil {
			return "", fmt.Errorf("failed to peel tag %s: %w", name, err)
		}
		return domain.Hash(commit.Hash.String()), nil
	}
	return domain.Hash(hash.String()), nil
}

func (r *gitVCS) commit(hash domain.Hash) (*object.Commit, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(string(hash)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchCommit, hash)
	}
	return commit, nil
}

// Commit returns the metadata of a single commit.
func (r *gitVCS) Commit(_ context.Context, hash domain.Hash) (*domain.CommitMetadata, error) {
	commit, err := r.commit(hash)
	if err != nil {
		return nil, err
	}
	return toMetadata(commit), nil
}

func toMetadata(commit *object.Commit) *domain.CommitMetadata {
	meta := &domain.CommitMetadata{
		Hash:      domain.Hash(commit.Hash.String()),
		Author:    domain.Author{Name: commit.Author.Name, Email: commit.Author.Email},
		Committer: domain.Author{Name: commit.Committer.Name, Email: commit.Committer.Email},
		Message:   strings.Split(strings.TrimRight(commit.Message, "\n"), "\n"),
	}
	for _, p := range commit.ParentHashes {
		meta.Parents = append(meta.Parents, domain.Hash(p.String()))
	}
	return meta
}

// Commits lists the commits reachable from 'to' but not from 'from',
// oldest first.
func (r *gitVCS) Commits(ctx context.Context, from, to domain.Hash) ([]domain.CommitMetadata, error) {
	excluded := map[plumbing.Hash]bool{}
	if from != "" {
		fromCommit, err := r.commit(from)
		if err != nil {
			return nil, err
		}
		iter := object.NewCommitPreorderIter(fromCommit, nil, nil)
		if err := iter.ForEach(func(c *object.Commit) error {
			excluded[c.Hash] = true
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to walk history of %s: %w", from, err)
		}
	}
	toCommit, err := r.commit(to)
	if err != nil {
		return nil, err
	}
	var out []domain.CommitMetadata
	iter := object.NewCommitPreorderIter(toCommit, excluded, nil)
	if err := iter.ForEach(func(c *object.Commit) error {
		if excluded[c.Hash] {
			return nil
		}
		out = append(out, *toMetadata(c))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk history of %s: %w", to, err)
	}
	// Preorder iteration yields newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// IsAncestor reports whether a is an ancestor of b.
func (r *gitVCS) IsAncestor(_ context.Context, a, b domain.Hash) (bool, error) {
	aCommit, err := r.commit(a)
	if err != nil {
		return false, err
	}
	bCommit, err := r.commit(b)
	if err != nil {
		return false, err
	}
	return aCommit.IsAncestor(bCommit)
}

// MergeBase returns the best common ancestor of a and b.
func (r *gitVCS) MergeBase(_ context.Context, a, b domain.Hash) (domain.Hash, error) {
	aCommit, err := r.commit(a)
	if err != nil {
		return "", err
	}
	bCommit, err := r.commit(b)
	if err != nil {
		return "", err
	}
	bases, err := aCommit.MergeBase(bCommit)
	if err != nil {
		return "", fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return "", domain.ErrUnrelatedHistory
	}
	return domain.Hash(bases[0].Hash.String()), nil
}

// Diff computes the textual diff between two commits.
func (r *gitVCS) Diff(_ context.Context, a, b domain.Hash) (*domain.Diff, error) {
	aCommit, err := r.commit(a)
	if err != nil {
		return nil, err
	}
	bCommit, err := r.commit(b)
	if err != nil {
		return nil, err
	}
	patch, err := aCommit.Patch(bCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff %s..%s: %w", a, b, err)
	}
	out := &domain.Diff{From: a, To: b}
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		p := domain.Patch{}
		switch {
		case to != nil:
			p.Path = to.Path()
		case from != nil:
			p.Path = from.Path()
		}
		if fp.IsBinary() {
			out.Patches = append(out.Patches, p)
			continue
		}
		hunk := domain.Hunk{}
		for _, chunk := range fp.Chunks() {
			lines := splitChunk(chunk.Content())
			switch chunk.Type() {
			case diff.Add:
				hunk.Added = append(hunk.Added, lines...)
			case diff.Delete:
				hunk.Removed = append(hunk.Removed, lines...)
			}
		}
		p.Hunks = []domain.Hunk{hunk}
		out.Patches = append(out.Patches, p)
	}
	return out, nil
}

func splitChunk(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// Fetch fetches ref from url and returns the resulting head.
func (r *gitVCS) Fetch(ctx context.Context, url, ref string) (domain.Hash, error) {
	local := plumbing.ReferenceName("refs/mergebot/fetch/" + sanitizeRef(ref))
	remote := git.NewRemote(r.repo.Storer, &gitconfig.RemoteConfig{
		Name: "mergebot-fetch",
		URLs: []string{url},
	})
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", fetchSource(ref), local))
	err := remote.FetchContext(ctx, &git.FetchOptions{RefSpecs: []gitconfig.RefSpec{spec}})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", fmt.Errorf("failed to fetch %s from %s: %w", ref, url, err)
	}
	resolved, err := r.repo.Reference(local, true)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrNoSuchRef, ref)
	}
	return domain.Hash(resolved.Hash().String()), nil
}

func fetchSource(ref string) string {
	if strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return "refs/heads/" + ref
}

func sanitizeRef(ref string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(ref)
}

// Push pushes hash to ref on url.
func (r *gitVCS) Push(ctx context.Context, hash domain.Hash, url, ref string, force bool) error {
	local := plumbing.ReferenceName("refs/mergebot/push/" + sanitizeRef(ref))
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(local, plumbing.NewHash(string(hash)))); err != nil {
		return fmt.Errorf("failed to stage push ref: %w", err)
	}
	remote := git.NewRemote(r.repo.Storer, &gitconfig.RemoteConfig{
		Name: "mergebot-push",
		URLs: []string{url},
	})
	prefix := ""
	if force {
		prefix = "+"
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("%s%s:%s", prefix, local, fetchSource(ref)))
	err := remote.PushContext(ctx, &git.PushOptions{
		RemoteName: "mergebot-push",
		RefSpecs:   []gitconfig.RefSpec{spec},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to push %s to %s: %w", hash.Abbreviate(), url, err)
	}
	return nil
}

// CreateCommit writes a commit reusing the tree of 'tree' with the given
// parents, message and identities.
func (r *gitVCS) CreateCommit(_ context.Context, message string, author, committer domain.Author,
	parents []domain.Hash, tree domain.Hash) (domain.Hash, error) {
	treeCommit, err := r.commit(tree)
	if err != nil {
		return "", err
	}
	now := time.Now()
	commit := &object.Commit{
		Author:    object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: object.Signature{Name: committer.Name, Email: committer.Email, When: now},
		Message:   message,
		TreeHash:  treeCommit.TreeHash,
	}
	for _, p := range parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.NewHash(string(p)))
	}
	return r.storeCommit(commit)
}

func (r *gitVCS) storeCommit(commit *object.Commit) (domain.Hash, error) {
	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("failed to store commit: %w", err)
	}
	return domain.Hash(hash.String()), nil
}

// Rebase replays the changes between base and head onto newBase. The
// replay succeeds only when the paths touched by base..head are disjoint
// from the paths touched by base..newBase; anything else is a conflict.
func (r *gitVCS) Rebase(ctx context.Context, base, head, newBase domain.Hash) (domain.Hash, error) {
	if base == newBase {
		return head, nil
	}
	ourChanges, err := r.changedFiles(base, head)
	if err != nil {
		return "", err
	}
	theirChanges, err := r.changedFiles(base, newBase)
	if err != nil {
		return "", err
	}
	for p := range ourChanges {
		if theirChanges[p] {
			return "", fmt.Errorf("rebase conflict in %s", p)
		}
	}
	headCommit, err := r.commit(head)
	if err != nil {
		return "", err
	}
	newBaseCommit, err := r.commit(newBase)
	if err != nil {
		return "", err
	}
	treeHash, err := r.mergeTrees(newBaseCommit, headCommit, ourChanges)
	if err != nil {
		return "", err
	}
	rebased := &object.Commit{
		Author:       headCommit.Author,
		Committer:    headCommit.Committer,
		Message:      headCommit.Message,
		TreeHash:     treeHash,
		ParentHashes: []plumbing.Hash{plumbing.NewHash(string(newBase))},
	}
	return r.storeCommit(rebased)
}

func (r *gitVCS) changedFiles(a, b domain.Hash) (map[string]bool, error) {
	aCommit, err := r.commit(a)
	if err != nil {
		return nil, err
	}
	bCommit, err := r.commit(b)
	if err != nil {
		return nil, err
	}
	patch, err := aCommit.Patch(bCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", a, b, err)
	}
	out := map[string]bool{}
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		if from != nil {
			out[from.Path()] = true
		}
		if to != nil {
			out[to.Path()] = true
		}
	}
	return out, nil
}

// mergeTrees starts from base's tree and applies head's state for every
// path in changed, returning the resulting tree hash.
func (r *gitVCS) mergeTrees(base, head *object.Commit, changed map[string]bool) (plumbing.Hash, error) {
	entries := map[string]object.TreeEntry{}
	baseTree, err := base.Tree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read base tree: %w", err)
	}
	if err := baseTree.Files().ForEach(func(f *object.File) error {
		entries[f.Name] = object.TreeEntry{Name: f.Name, Mode: f.Mode, Hash: f.Hash}
		return nil
	}); err != nil {
		return plumbing.ZeroHash, err
	}
	headTree, err := head.Tree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read head tree: %w", err)
	}
	headFiles := map[string]object.TreeEntry{}
	if err := headTree.Files().ForEach(func(f *object.File) error {
		headFiles[f.Name] = object.TreeEntry{Name: f.Name, Mode: f.Mode, Hash: f.Hash}
		return nil
	}); err != nil {
		return plumbing.ZeroHash, err
	}
	for p := range changed {
		if entry, ok := headFiles[p]; ok {
			entries[p] = entry
		} else {
			delete(entries, p)
		}
	}
	return r.buildTree(entries)
}

// buildTree writes nested tree objects for a flat path->entry map.
func (r *gitVCS) buildTree(files map[string]object.TreeEntry) (plumbing.Hash, error) {
	type dir struct {
		entries map[string]object.TreeEntry
	}
	dirs := map[string]*dir{"": {entries: map[string]object.TreeEntry{}}}
	var paths []string
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		parent := path.Dir(p)
		if parent == "." {
			parent = ""
		}
		for d := parent; ; d = path.Dir(d) {
			if d == "." {
				d = ""
			}
			if _, ok := dirs[d]; !ok {
				dirs[d] = &dir{entries: map[string]object.TreeEntry{}}
			}
			if d == "" {
				break
			}
		}
		entry := files[p]
		entry.Name = path.Base(p)
		dirs[parent].entries[entry.Name] = entry
	}
	var write func(name string) (plumbing.Hash, error)
	write = func(name string) (plumbing.Hash, error) {
		d := dirs[name]
		var names []string
		for n := range d.entries {
			names = append(names, n)
		}
		// Subdirectories of this dir also become entries.
		for sub := range dirs {
			if sub == "" || sub == name || parentDir(sub) != name {
				continue
			}
			hash, err := write(sub)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			d.entries[path.Base(sub)] = object.TreeEntry{Name: path.Base(sub), Mode: filemode.Dir, Hash: hash}
			names = append(names, path.Base(sub))
		}
		sort.Strings(names)
		tree := &object.Tree{}
		seen := map[string]bool{}
		for _, n := range names {
			if seen[n] {
				continue
			}
			seen[n] = true
			tree.Entries = append(tree.Entries, d.entries[n])
		}
		obj := r.repo.Storer.NewEncodedObject()
		if err := tree.Encode(obj); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
		}
		return r.repo.Storer.SetEncodedObject(obj)
	}
	return write("")
}

func parentDir(name string) string {
	d := path.Dir(name)
	if d == "." {
		return ""
	}
	return d
}

// ReadFile reads a file from the tree of the given commit.
func (r *gitVCS) ReadFile(_ context.Context, commit domain.Hash, filePath string) ([]byte, error) {
	c, err := r.commit(commit)
	if err != nil {
		return nil, err
	}
	f, err := c.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", filePath, commit.Abbreviate(), err)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", filePath, commit.Abbreviate(), err)
	}
	return []byte(content), nil
}

// CommitFile writes a single-file tree on top of parent and returns the
// commit hash.
func (r *gitVCS) CommitFile(_ context.Context, message, filePath string, content []byte,
	parent domain.Hash) (domain.Hash, error) {
	blob := r.repo.Storer.NewEncodedObject()
	blob.SetType(plumbing.BlobObject)
	writer, err := blob.Writer()
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	blobHash, err := r.repo.Storer.SetEncodedObject(blob)
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	treeHash, err := r.buildTree(map[string]object.TreeEntry{
		filePath: {Name: filePath, Mode: filemode.Regular, Hash: blobHash},
	})
	if err != nil {
		return "", err
	}
	now := time.Now()
	sig := object.Signature{Name: "mergebot", Email: "mergebot@localhost", When: now}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	if parent != "" {
		commit.ParentHashes = []plumbing.Hash{plumbing.NewHash(string(parent))}
	}
	return r.storeCommit(commit)
}
