package models

import "time"

// BranchInfo represents a git branch with its latest commit timestamp.
type BranchInfo struct {
	Name           string    `json:"name"`
	LastCommitDate time.Time `json:"lastCommitDate"`
}

// RepoStatus is the last-known working-tree state of a repository directory.
// Ahead/Behind are measured against the branch's origin counterpart and stay
// zero when no remote ref exists.
type RepoStatus struct {
	Branch   string   `json:"branch"`
	Ahead    int      `json:"ahead"`
	Behind   int      `json:"behind"`
	Modified []string `json:"modified,omitempty"`
	Created  []string `json:"created,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
	Renamed  []string `json:"renamed,omitempty"`
	IsClean  bool     `json:"isClean"`
}
