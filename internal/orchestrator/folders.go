package orchestrator

import (
	"context"
	"sort"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/kv"
)

// KVFolderResolver keeps folder membership as KV sets keyed
// folder:{tenant}:{workspace}:{name}.
type KVFolderResolver struct {
	kv *kv.Store
}

// NewKVFolderResolver builds a resolver over the shared KV store.
func NewKVFolderResolver(store *kv.Store) *KVFolderResolver {
	return &KVFolderResolver{kv: store}
}

func folderKey(tenant, workspace, name string) string {
	return "folder:" + tenant + ":" + workspace + ":" + name
}

// AddDocuments registers documents under a folder.
func (r *KVFolderResolver) AddDocuments(ctx context.Context, tenant, workspace, folder string, documentIDs ...string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	return r.kv.SAdd(ctx, folderKey(tenant, workspace, folder), documentIDs...)
}

// ResolveFolders unions the document ids of all named folders. A folder
// with no members contributes nothing.
func (r *KVFolderResolver) ResolveFolders(ctx context.Context, tenant, workspace string, folders []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, f := range folders {
		members, err := r.kv.SMembers(ctx, folderKey(tenant, workspace, f))
		if err != nil {
			return nil, fault.Wrap(fault.BackendUnavailable, err, "reading folder %q", f)
		}
		for _, id := range members {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
