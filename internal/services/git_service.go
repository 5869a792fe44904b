package services

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"sidetrack/internal/apperr"
	"sidetrack/internal/models"
)

// GitService is a stateless façade over git working directories. Every method
// confirms the directory is a repository before doing anything else.
type GitService struct{}

func NewGitService() *GitService {
	return &GitService{}
}

// open maps go-git's open failure onto the shared error taxonomy.
func (g *GitService) open(dir string) (*git.Repository, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: repository path cannot be empty", apperr.ErrValidation)
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, apperr.ErrNotARepository)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", dir, err)
	}
	return repo, nil
}

// IsRepository reports whether dir is an openable git repository.
func (g *GitService) IsRepository(dir string) bool {
	_, err := git.PlainOpen(dir)
	return err == nil
}

// isEmpty reports whether the repository has no commits yet. "No branches"
// is a valid state, not an error.
func isEmpty(repo *git.Repository) bool {
	_, err := repo.Head()
	return errors.Is(err, plumbing.ErrReferenceNotFound)
}

// CreateBranch creates branch name from base inside dir without checking it
// out. A repository with zero commits fails with ErrNoCommits, distinguishable
// from ErrNotARepository.
func (g *GitService) CreateBranch(dir, name, base string) error {
	repo, err := g.open(dir)
	if err != nil {
		return err
	}
	if isEmpty(repo) {
		return fmt.Errorf("cannot create branch %q: %w", name, apperr.ErrNoCommits)
	}

	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return fmt.Errorf("%w: base branch %q does not exist", apperr.ErrValidation, base)
	}

	newRefName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(newRefName, false); err == nil {
		return fmt.Errorf("branch %q: %w", name, apperr.ErrBranchExists)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(newRefName, baseRef.Hash())); err != nil {
		return fmt.Errorf("failed to create branch %q: %w", name, err)
	}
	return nil
}

// CheckoutBranch checks out an existing branch in dir's worktree.
func (g *GitService) CheckoutBranch(dir, name string) error {
	repo, err := g.open(dir)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		return fmt.Errorf("failed to checkout branch %q: %w", name, err)
	}
	return nil
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (g *GitService) CurrentBranch(dir string) (string, error) {
	repo, err := g.open(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("cannot resolve HEAD: %w", apperr.ErrNoCommits)
		}
		return "", fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	return head.Name().Short(), nil
}

// ListBranches returns all local branches with their last commit date.
func (g *GitService) ListBranches(dir string) ([]models.BranchInfo, error) {
	repo, err := g.open(dir)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var branches []models.BranchInfo
	if err := iter.ForEach(func(ref *plumbing.Reference) error {
		commit, cErr := repo.CommitObject(ref.Hash())
		if cErr != nil {
			return cErr
		}
		branches = append(branches, models.BranchInfo{
			Name:           ref.Name().Short(),
			LastCommitDate: commit.Author.When,
		})
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// BranchExists reports whether a local branch exists. On a repository with
// zero commits it returns false rather than an error.
func (g *GitService) BranchExists(dir, name string) (bool, error) {
	repo, err := g.open(dir)
	if err != nil {
		return false, err
	}
	if _, err := repo.Reference(plumbing.NewBranchReferenceName(name), false); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Status returns the working-tree state of dir: current branch, ahead/behind
// counts against origin, per-kind file lists, and a clean flag.
func (g *GitService) Status(dir string) (*models.RepoStatus, error) {
	repo, err := g.open(dir)
	if err != nil {
		return nil, err
	}

	status := &models.RepoStatus{}

	head, err := repo.Head()
	if err == nil {
		status.Branch = head.Name().Short()
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	wtStatus, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	for path, fs := range wtStatus {
		code := fs.Staging
		if code == git.Unmodified {
			code = fs.Worktree
		}
		switch code {
		case git.Added, git.Untracked:
			status.Created = append(status.Created, path)
		case git.Modified, git.UpdatedButUnmerged:
			status.Modified = append(status.Modified, path)
		case git.Deleted:
			status.Deleted = append(status.Deleted, path)
		case git.Renamed, git.Copied:
			status.Renamed = append(status.Renamed, path)
		}
	}
	sort.Strings(status.Created)
	sort.Strings(status.Modified)
	sort.Strings(status.Deleted)
	sort.Strings(status.Renamed)
	status.IsClean = wtStatus.IsClean()

	if head != nil && status.Branch != "" {
		remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, status.Branch), true)
		if err == nil {
			ahead, behind, cntErr := countAheadBehind(repo, head.Hash(), remoteRef.Hash())
			if cntErr == nil {
				status.Ahead = ahead
				status.Behind = behind
			}
		}
	}

	return status, nil
}

// MergeBranch merges branch into target inside dir. Only fast-forward merges
// are performed; diverged histories are detected and reported, never resolved.
func (g *GitService) MergeBranch(dir, branch, target string) error {
	repo, err := g.open(dir)
	if err != nil {
		return err
	}

	branchCommit, err := resolveBranchCommit(repo, branch)
	if err != nil {
		return err
	}
	targetCommit, err := resolveBranchCommit(repo, target)
	if err != nil {
		return err
	}

	if branchCommit.Hash == targetCommit.Hash {
		return nil
	}

	// Already merged: nothing to do.
	merged, err := branchCommit.IsAncestor(targetCommit)
	if err != nil {
		return fmt.Errorf("failed to compare branch histories: %w", err)
	}
	if merged {
		return nil
	}

	conflicts, err := g.DetectConflicts(dir, branch, target)
	if err != nil {
		return err
	}
	if conflicts {
		return fmt.Errorf("merging %q into %q: %w", branch, target, apperr.ErrMergeConflict)
	}

	canFF, err := targetCommit.IsAncestor(branchCommit)
	if err != nil {
		return fmt.Errorf("failed to compare branch histories: %w", err)
	}
	if !canFF {
		return fmt.Errorf("merging %q into %q requires a merge commit; resolve manually", branch, target)
	}

	// When target is the checked-out branch the worktree must follow the
	// fast-forward, and the only safe way to move it is a hard reset. Refuse
	// up front if that would clobber uncommitted work.
	targetRefName := plumbing.NewBranchReferenceName(target)
	var wt *git.Worktree
	if head, headErr := repo.Head(); headErr == nil && head.Name() == targetRefName {
		wt, err = repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree: %w", err)
		}
		wtStatus, err := wt.Status()
		if err != nil {
			return fmt.Errorf("failed to read worktree status: %w", err)
		}
		if !wtStatus.IsClean() {
			return fmt.Errorf("branch %q is checked out with uncommitted changes; commit or stash them and merge manually", target)
		}
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(targetRefName, branchCommit.Hash)); err != nil {
		return fmt.Errorf("failed to fast-forward %q: %w", target, err)
	}
	if wt != nil {
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: branchCommit.Hash}); err != nil {
			return fmt.Errorf("failed to update worktree after fast-forward: %w", err)
		}
	}
	return nil
}

// DetectConflicts reports whether merging branch into target would touch the
// same paths on both sides since their merge base.
func (g *GitService) DetectConflicts(dir, branch, target string) (bool, error) {
	repo, err := g.open(dir)
	if err != nil {
		return false, err
	}

	branchCommit, err := resolveBranchCommit(repo, branch)
	if err != nil {
		return false, err
	}
	targetCommit, err := resolveBranchCommit(repo, target)
	if err != nil {
		return false, err
	}

	if branchCommit.Hash == targetCommit.Hash {
		return false, nil
	}

	bases, err := branchCommit.MergeBase(targetCommit)
	if err != nil {
		return false, fmt.Errorf("failed to compute merge base: %w", err)
	}
	if len(bases) == 0 {
		// Unrelated histories cannot merge cleanly.
		return true, nil
	}
	base := bases[0]

	branchPaths, err := changedPaths(base, branchCommit)
	if err != nil {
		return false, err
	}
	if len(branchPaths) == 0 {
		return false, nil
	}
	targetPaths, err := changedPaths(base, targetCommit)
	if err != nil {
		return false, err
	}

	for p := range targetPaths {
		if branchPaths[p] {
			return true, nil
		}
	}
	return false, nil
}

// DeleteBranch removes a local branch reference from dir.
func (g *GitService) DeleteBranch(dir, name string) error {
	repo, err := g.open(dir)
	if err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(refName, false); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("branch %q: %w", name, apperr.ErrNotFound)
		}
		return err
	}
	if err := repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", name, err)
	}
	return nil
}

// CloneWorkspace clones the repository at srcDir into dest and checks out
// branch there. The branch must already exist in the source repository.
func (g *GitService) CloneWorkspace(srcDir, dest, branch string) error {
	if _, err := g.open(srcDir); err != nil {
		return err
	}
	if dest == "" {
		return fmt.Errorf("%w: workspace path cannot be empty", apperr.ErrValidation)
	}

	repo, err := git.PlainClone(dest, false, &git.CloneOptions{URL: srcDir})
	if err != nil {
		return fmt.Errorf("failed to clone repository to workspace: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get workspace worktree: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName}); err == nil {
		return nil
	}

	// The clone only materializes the default branch locally; resolve the
	// session branch from the origin remote ref and create it here.
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch), true)
	if err != nil {
		return fmt.Errorf("branch %q not found in cloned workspace: %w", branch, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, remoteRef.Hash())); err != nil {
		return fmt.Errorf("failed to create branch %q in workspace: %w", branch, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName}); err != nil {
		return fmt.Errorf("failed to checkout branch %q in workspace: %w", branch, err)
	}
	return nil
}

func resolveBranchCommit(repo *git.Repository, branch string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("branch %q: %w", branch, apperr.ErrNotFound)
		}
		return nil, err
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load commit for branch %q: %w", branch, err)
	}
	return commit, nil
}

// changedPaths collects every path touched between base and tip.
func changedPaths(base, tip *object.Commit) (map[string]bool, error) {
	baseTree, err := base.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load base tree: %w", err)
	}
	tipTree, err := tip.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tip tree: %w", err)
	}
	changes, err := object.DiffTree(baseTree, tipTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}
	paths := make(map[string]bool, len(changes))
	for _, change := range changes {
		if change.From.Name != "" {
			paths[change.From.Name] = true
		}
		if change.To.Name != "" {
			paths[change.To.Name] = true
		}
	}
	return paths, nil
}

// countAheadBehind counts commits reachable from local but not remote and
// vice versa, pruning at their merge base.
func countAheadBehind(repo *git.Repository, local, remote plumbing.Hash) (int, int, error) {
	if local == remote {
		return 0, 0, nil
	}
	localCommit, err := repo.CommitObject(local)
	if err != nil {
		return 0, 0, err
	}
	remoteCommit, err := repo.CommitObject(remote)
	if err != nil {
		return 0, 0, err
	}
	bases, err := localCommit.MergeBase(remoteCommit)
	if err != nil {
		return 0, 0, err
	}
	stop := make([]plumbing.Hash, 0, len(bases))
	for _, b := range bases {
		stop = append(stop, b.Hash)
	}

	ahead, err := countCommits(localCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	behind, err := countCommits(remoteCommit, stop)
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

func countCommits(from *object.Commit, ignore []plumbing.Hash) (int, error) {
	iter := object.NewCommitPreorderIter(from, nil, ignore)
	defer iter.Close()
	count := 0
	err := iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
