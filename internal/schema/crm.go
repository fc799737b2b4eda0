package schema

// CRM table names
const (
	TableRoles              = "roles"
	TablePermissions        = "permissions"
	TableUsers              = "users"
	TableUserRoles          = "user_roles"
	TableRolePermissions    = "role_permissions"
	TableAPIKeys            = "api_keys"
	TableTags               = "tags"
	TableCategories         = "categories"
	TableAccounts           = "accounts"
	TableContacts           = "contacts"
	TableLeads              = "leads"
	TableOpportunities      = "opportunities"
	TableActivities         = "activities"
	TableEntityTags         = "entity_tags"
	TableEntityCategories   = "entity_categories"
	TableComments           = "comments"
	TableCommentReactions   = "comment_reactions"
	TableCommentAttachments = "comment_attachments"
	TableAuditLogs          = "audit_logs"
	TableIDPatterns         = "id_patterns"
)

// CRMTables returns the descriptors of every table governed by backup and restore.
// A new table that references another one must declare the reference with Ref so
// the restore order picks it up.
func CRMTables() []*Table {
	id := []string{"id"}

	return []*Table{
		// identity and access control
		NewTable(TableRoles, SizeSmall, id,
			Col("id"), Col("name"), Col("description"), Typed("isSystem", KindBool),
			Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TablePermissions, SizeSmall, id,
			Col("id"), Col("resource"), Enum("action"), Col("description"),
			Col("createdAt"),
		),
		NewTable(TableUsers, SizeMedium, id,
			Col("id"), Col("email"), Col("name"), Col("passwordHash"),
			EnumDefault("status", "active"), Col("lastLoginAt"),
			Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableUserRoles, SizeSmall, []string{"userId", "roleId"},
			Ref("userId", TableUsers), Ref("roleId", TableRoles), Col("assignedAt"),
		),
		NewTable(TableRolePermissions, SizeSmall, []string{"roleId", "permissionId"},
			Ref("roleId", TableRoles), Ref("permissionId", TablePermissions),
		),
		NewTable(TableAPIKeys, SizeSmall, id,
			Col("id"), Ref("userId", TableUsers), Col("name"), Col("keyHash"), Col("prefix"),
			Typed("scopes", KindJSON), Col("lastUsedAt"), Col("expiresAt"), Col("revokedAt"),
			Col("createdAt"),
		),

		// CRM entities
		NewTable(TableTags, SizeSmall, id,
			Col("id"), Col("name"), Col("color"), Col("createdAt"),
		),
		NewTable(TableCategories, SizeSmall, id,
			Col("id"), Col("name"), Col("description"), Col("createdAt"),
		),
		NewTable(TableAccounts, SizeMedium, id,
			Col("id"), Col("name"), Enum("industry"), Enum("type"), Col("website"), Col("phone"),
			Typed("annualRevenue", KindDecimal), Typed("employeeCount", KindInt),
			Ref("ownerId", TableUsers), Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableContacts, SizeMedium, id,
			Col("id"), Ref("accountId", TableAccounts), Col("firstName"), Col("lastName"),
			Col("email"), Col("phone"), Col("title"), Col("birthDate"),
			Ref("ownerId", TableUsers), Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableLeads, SizeMedium, id,
			Col("id"), Col("firstName"), Col("lastName"), Col("company"), Col("email"), Col("phone"),
			EnumDefault("status", "new"), Enum("source"), Enum("rating"),
			Ref("convertedAccountId", TableAccounts), Ref("convertedContactId", TableContacts),
			Col("convertedAt"), Ref("ownerId", TableUsers), Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableOpportunities, SizeMedium, id,
			Col("id"), Col("name"), Ref("accountId", TableAccounts), Ref("contactId", TableContacts),
			EnumDefault("stage", "prospecting"), Typed("amount", KindDecimal),
			Typed("probability", KindInt), Col("closeDate"),
			Ref("ownerId", TableUsers), Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableActivities, SizeLarge, id,
			Col("id"), Enum("type"), Col("subject"), Col("description"),
			EnumDefault("status", "pending"), EnumDefault("priority", "medium"),
			Col("dueDate"), Col("completedAt"),
			Ref("accountId", TableAccounts), Ref("contactId", TableContacts),
			Ref("leadId", TableLeads), Ref("opportunityId", TableOpportunities),
			Ref("ownerId", TableUsers), Col("createdAt"), Col("updatedAt"),
		),
		NewTable(TableEntityTags, SizeMedium, []string{"tagId", "entityType", "entityId"},
			Ref("tagId", TableTags), Enum("entityType"), Col("entityId"), Col("createdAt"),
		),
		NewTable(TableEntityCategories, SizeMedium, []string{"categoryId", "entityType", "entityId"},
			Ref("categoryId", TableCategories), Enum("entityType"), Col("entityId"), Col("createdAt"),
		),

		// collaboration
		NewTable(TableComments, SizeMedium, id,
			Col("id"), Enum("entityType"), Col("entityId"), Ref("authorId", TableUsers),
			Ref("parentId", TableComments), Col("body"), Typed("isEdited", KindBool),
			Col("createdAt"), Col("updatedAt"), Col("deletedAt"),
		).WithSelfRef("parentId"),
		NewTable(TableCommentReactions, SizeMedium, id,
			Col("id"), Ref("commentId", TableComments), Ref("userId", TableUsers), Col("emoji"),
			Col("createdAt"),
		),
		NewTable(TableCommentAttachments, SizeSmall, id,
			Col("id"), Ref("commentId", TableComments), Col("fileName"), Col("mimeType"),
			Typed("size", KindInt), Col("url"), Ref("uploadedBy", TableUsers), Col("createdAt"),
		),

		// provenance
		NewTable(TableAuditLogs, SizeLarge, id,
			Col("id"), Ref("userId", TableUsers), Enum("action"), Col("resource"), Col("resourceId"),
			Typed("before", KindJSON), Typed("after", KindJSON), Typed("metadata", KindJSON),
			Col("ipAddress"), Col("userAgent"), Col("createdAt"),
		),
		NewTable(TableIDPatterns, SizeSmall, id,
			Col("id"), Col("entityType"), Col("prefix"), Typed("nextValue", KindInt),
			Typed("padding", KindInt), Col("updatedAt"),
		),
	}
}

// CRM builds the registry of governed CRM tables
func CRM() (*Registry, error) {
	return NewRegistry(CRMTables()...)
}

// MustCRM is like CRM but panics on an invalid descriptor set
func MustCRM() *Registry {
	r, err := CRM()
	if err != nil {
		panic(err)
	}
	return r
}
