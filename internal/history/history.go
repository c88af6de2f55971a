// Package history keeps an append-only snapshot trail of canonical session
// state in a per-session git repository, so past states can be listed and
// recovered by commit hash.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"argmap/api/internal/doc"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	stateFile  = "state.json"
	mainBranch = "main"
	author     = "argmap"
	authorMail = "argmap@localhost"
)

// State is the committed snapshot: the full canonical triple.
type State struct {
	Document      doc.Node           `json:"document"`
	Annotations   []doc.Annotation   `json:"annotations"`
	Relationships []doc.Relationship `json:"relationships"`
}

// CommitInfo describes one snapshot.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns one bare directory of per-session repositories. All
// operations on a session serialize on a per-session lock.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordState commits the triple as a new snapshot, creating the session's
// repository on first use. Identical consecutive states produce no commit.
func (s *Service) RecordState(_ context.Context, sessionID, message string, document doc.Node, annotations []doc.Annotation, relationships []doc.Relationship) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(sessionID)
	if err != nil {
		return err
	}

	state := State{
		Document:      document,
		Annotations:   annotations,
		Relationships: relationships,
	}
	if state.Annotations == nil {
		state.Annotations = []doc.Annotation{}
	}
	if state.Relationships == nil {
		state.Relationships = []doc.Relationship{}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, stateFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return fmt.Errorf("git add state: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	if message == "" {
		message = "state update"
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author, Email: authorMail, When: time.Now()},
	}); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// History lists snapshots newest first, up to limit (0 means all).
func (s *Service) History(_ context.Context, sessionID string, limit int) ([]CommitInfo, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetStateByHash loads the snapshot committed under the given hash. Short
// hashes are resolved.
func (s *Service) GetStateByHash(_ context.Context, sessionID, hash string) (State, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if err != nil {
		return State{}, fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return State{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return State{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readStateFromCommit(commitObj)
}

func (s *Service) ensureRepo(sessionID string) (*git.Repository, error) {
	path := s.repoPath(sessionID)
	if _, err := os.Stat(path); err == nil {
		repo, openErr := git.PlainOpen(path)
		if openErr != nil {
			return nil, fmt.Errorf("open repo: %w", openErr)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sessionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sessionID] = lock
	return lock
}

func readStateFromCommit(commitObj *object.Commit) (State, error) {
	file, err := commitObj.File(stateFile)
	if err != nil {
		return State{}, fmt.Errorf("load %s from commit: %w", stateFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return State{}, fmt.Errorf("open state reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return State{}, fmt.Errorf("read state bytes: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
