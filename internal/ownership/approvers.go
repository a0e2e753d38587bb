package ownership

import (
	"sort"

	"github.com/changegate/pkg/models"
)

// RoleV1 is a role/ownership definition as fetched from the bundle query
// service: its members and the change-types it may self-service on which
// files.
type RoleV1 struct {
	Name        string                `json:"name" yaml:"name"`
	Users       []RoleUserV1          `json:"users,omitempty" yaml:"users,omitempty"`
	Bots        []RoleBotV1           `json:"bots,omitempty" yaml:"bots,omitempty"`
	SelfService []SelfServiceConfigV1 `json:"self_service,omitempty" yaml:"self_service,omitempty"`
}

// RoleUserV1 is one human member of a role.
type RoleUserV1 struct {
	OrgUsername        string `json:"org_username" yaml:"org_username"`
	TagOnMergeRequests bool   `json:"tag_on_merge_requests" yaml:"tag_on_merge_requests"`
}

// RoleBotV1 is one bot member of a role.
type RoleBotV1 struct {
	OrgUsername string `json:"org_username" yaml:"org_username"`
}

// SelfServiceConfigV1 grants a role's members a change-type on specific
// context files.
type SelfServiceConfigV1 struct {
	ChangeType ChangeTypeRefPathV1 `json:"change_type" yaml:"change_type"`
	Datafiles  []FilePathV1        `json:"datafiles,omitempty" yaml:"datafiles,omitempty"`
	Resources  []string            `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ChangeTypeRefPathV1 references a change-type by name.
type ChangeTypeRefPathV1 struct {
	Name string `json:"name" yaml:"name"`
}

// FilePathV1 references a datafile by bundle path.
type FilePathV1 struct {
	Path string `json:"path" yaml:"path"`
}

// RoleBinding is one role granting one change-type on one context file.
type RoleBinding struct {
	Origin    string
	Approvers []models.Approver
}

type bindingKey struct {
	changeType string
	filePath   string
}

// ApproverStore indexes role definitions by (change-type, context file) so
// coverage matching can bind contexts to their approver groups without
// rescanning every role.
type ApproverStore struct {
	bindings map[bindingKey][]RoleBinding
}

// BuildApproverStore indexes the given roles.
func BuildApproverStore(roles []RoleV1) *ApproverStore {
	store := &ApproverStore{bindings: map[bindingKey][]RoleBinding{}}
	for _, role := range roles {
		approvers := roleApprovers(role)
		for _, ss := range role.SelfService {
			paths := make([]string, 0, len(ss.Datafiles)+len(ss.Resources))
			for _, df := range ss.Datafiles {
				paths = append(paths, df.Path)
			}
			paths = append(paths, ss.Resources...)
			for _, path := range paths {
				key := bindingKey{changeType: ss.ChangeType.Name, filePath: path}
				store.bindings[key] = append(store.bindings[key], RoleBinding{
					Origin:    role.Name,
					Approvers: approvers,
				})
			}
		}
	}
	return store
}

// BindingsFor returns every role binding granting the change-type on the
// context file, in a stable order.
func (s *ApproverStore) BindingsFor(changeType, contextFilePath string) []RoleBinding {
	bindings := append([]RoleBinding(nil),
		s.bindings[bindingKey{changeType: changeType, filePath: contextFilePath}]...)
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Origin < bindings[j].Origin })
	return bindings
}

func roleApprovers(role RoleV1) []models.Approver {
	approvers := make([]models.Approver, 0, len(role.Users)+len(role.Bots))
	for _, u := range role.Users {
		approvers = append(approvers, models.Approver{
			Username:           u.OrgUsername,
			TagOnMergeRequests: u.TagOnMergeRequests,
		})
	}
	for _, b := range role.Bots {
		approvers = append(approvers, models.Approver{Username: b.OrgUsername})
	}
	sort.Slice(approvers, func(i, j int) bool { return approvers[i].Username < approvers[j].Username })
	return approvers
}
