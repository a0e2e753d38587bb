package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/changegate/internal/changetypes"
	"github.com/changegate/pkg/models"
)

func TestBuildContexts_RoleBinding(t *testing.T) {
	r := buildResolver(t, &fakeQuerier{}, roleMembershipDef())
	store := BuildApproverStore([]RoleV1{appSRERole()})

	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     "/access/roles/app-sre.yml",
			Schema:   "/access/role-1.yml",
		},
		New: map[string]any{"users": []any{map[string]any{"$ref": "/users/alice.yml"}}},
	}
	contexts, err := r.BuildContexts(context.Background(), change, store)
	require.NoError(t, err)
	require.Len(t, contexts, 1)

	ctx := contexts[0]
	require.Equal(t, "role:app-sre", ctx.Origin)
	require.Equal(t, change.FileRef, ctx.ContextFile)
	require.True(t, ctx.HasApprover("alice"))
	require.True(t, ctx.HasApprover("change-owners-bot"))
}

func TestBuildContexts_DropsContextsWithoutApprovers(t *testing.T) {
	// The change type resolves, but no role grants it on this file.
	r := buildResolver(t, &fakeQuerier{}, roleMembershipDef())
	store := BuildApproverStore(nil)

	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     "/access/roles/app-sre.yml",
			Schema:   "/access/role-1.yml",
		},
	}
	contexts, err := r.BuildContexts(context.Background(), change, store)
	require.NoError(t, err)
	require.Empty(t, contexts)
}

func TestBuildContexts_ImplicitOwnership(t *testing.T) {
	def := roleMembershipDef()
	def.ImplicitOwnership = []changetypes.ImplicitOwnershipV1{{
		Provider: changetypes.ProviderJSONPath,
		Selector: "owners[*].org_username",
	}}
	r := buildResolver(t, &fakeQuerier{}, def)

	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     "/access/roles/app-sre.yml",
			Schema:   "/access/role-1.yml",
		},
		New: map[string]any{"owners": []any{
			map[string]any{"org_username": "carol"},
			map[string]any{"org_username": "alice"},
		}},
	}
	contexts, err := r.BuildContexts(context.Background(), change, BuildApproverStore(nil))
	require.NoError(t, err)
	require.Len(t, contexts, 1)

	ctx := contexts[0]
	require.Equal(t, "implicit:owners[*].org_username", ctx.Origin)
	require.Equal(t, []models.Approver{{Username: "alice"}, {Username: "carol"}}, ctx.Approvers)
}

func TestBuildContexts_ImplicitOwnershipOnDeletedFileUsesOldContent(t *testing.T) {
	def := roleMembershipDef()
	def.ImplicitOwnership = []changetypes.ImplicitOwnershipV1{{
		Provider: changetypes.ProviderJSONPath,
		Selector: "owners[*].org_username",
	}}
	r := buildResolver(t, &fakeQuerier{}, def)

	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     "/access/roles/app-sre.yml",
			Schema:   "/access/role-1.yml",
		},
		Old: map[string]any{"owners": []any{map[string]any{"org_username": "carol"}}},
	}
	contexts, err := r.BuildContexts(context.Background(), change, BuildApproverStore(nil))
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	require.Equal(t, []models.Approver{{Username: "carol"}}, contexts[0].Approvers)
}

func TestBuildContexts_ImplicitOwnershipFromRemoteContextFile(t *testing.T) {
	defs := ownershipDefs()
	// Approvers come from the owning app file, not the changed namespace.
	defs[1].ImplicitOwnership = []changetypes.ImplicitOwnershipV1{{
		Provider: changetypes.ProviderJSONPath,
		Selector: "serviceOwners[*].org_username",
	}}
	q := &fakeQuerier{files: map[string]fakeFile{
		"/namespaces/app-prod.yml": {
			content: map[string]any{"app": map[string]any{"$ref": "/app/team-a/app.yml"}},
			schema:  "/openshift/namespace-1.yml",
		},
		"/app/team-a/app.yml": {
			content: map[string]any{"serviceOwners": []any{map[string]any{"org_username": "dana"}}},
			schema:  "/app-sre/app-1.yml",
		},
	}}
	r := buildResolver(t, q, defs...)

	change := &models.BundleFileChange{
		FileRef: models.FileRef{
			FileType: models.FileTypeDatafile,
			Path:     "/namespaces/app-prod.yml",
			Schema:   "/openshift/namespace-1.yml",
		},
		New: map[string]any{"openshiftResources": []any{}},
	}
	contexts, err := r.BuildContexts(context.Background(), change, BuildApproverStore(nil))
	require.NoError(t, err)

	var origins []string
	for _, ctx := range contexts {
		origins = append(origins, ctx.ChangeType.Name()+"/"+ctx.ContextFile.Path)
	}
	require.Contains(t, origins, "namespace-member//app/team-a/app.yml")

	for _, ctx := range contexts {
		if ctx.ContextFile.Path == "/app/team-a/app.yml" {
			require.Equal(t, []models.Approver{{Username: "dana"}}, ctx.Approvers)
		}
	}
}
