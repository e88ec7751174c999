package fabric

import "context"

// AccessChecker decides whether a workspace may read a sibling workspace's
// data graph. This is a required integration point for deployments with
// cross-workspace sharing; the engine ships only the fail-closed default.
type AccessChecker interface {
	CanAccessWorkspace(ctx context.Context, tenant, fromWorkspace, targetWorkspace string) (bool, error)
}

// DenyAllAccess denies every cross-workspace read.
type DenyAllAccess struct{}

// CanAccessWorkspace always returns false.
func (DenyAllAccess) CanAccessWorkspace(context.Context, string, string, string) (bool, error) {
	return false, nil
}
