package models

import "time"

// Session is a named unit of work bound to one git branch and one isolated
// workspace clone of the source repository. At most one session is active
// at any time.
type Session struct {
	ID            string `gorm:"primaryKey;size:24" json:"id"`
	Title         string `gorm:"size:255;not null" json:"title"`
	RepoPath      string `gorm:"size:1024;not null" json:"repoPath"`
	WorkspacePath string `gorm:"size:1024;not null" json:"workspacePath"`
	BranchName    string `gorm:"size:255;not null" json:"branchName"`
	BaseBranch    string `gorm:"size:255;not null" json:"baseBranch"`
	GitStatusJSON string `gorm:"type:text" json:"gitStatusJson,omitempty"`
	MetadataJSON  string `gorm:"type:text" json:"metadataJson,omitempty"`
	IsActive      bool   `gorm:"not null;default:false;index" json:"isActive"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`

	Messages []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
