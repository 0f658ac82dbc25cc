package domain

// TargetRepository is the mirror repository on the target host
type TargetRepository struct {
	Owner         string
	Name          string
	FullName      string
	CloneURL      string
	DefaultBranch string
	IsPrivate     bool
	CanPush       bool
}
