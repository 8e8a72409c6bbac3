package shared

import "context"

// Command names checked by the RBAC policy.
const (
	CmdCatalogList        = "catalog.list"
	CmdCatalogAdd         = "catalog.add_product"
	CmdCatalogUpdate      = "catalog.update_product"
	CmdCatalogDelete      = "catalog.delete_product"
	CmdCatalogBulkUpsert  = "catalog.bulk_upsert"
	CmdCatalogPriceLog    = "catalog.price_history"
	CmdInventoryView      = "inventory.view"
	CmdInventoryRecount   = "inventory.recount"
	CmdInventoryReceive   = "inventory.receive"
	CmdInvoiceCreate      = "invoice.create"
	CmdInvoiceView        = "invoice.view"
	CmdInvoiceAdminEdit   = "invoice.admin_edit"
	CmdInvoiceAdminDelete = "invoice.admin_delete"
	CmdExportPlan         = "export.plan"
	CmdExportExecute      = "export.execute"
	CmdExportPoolsRecord  = "export.record_opening_pools"
	CmdExportView         = "export.view"
	CmdFundTransfer       = "fund.transfer"
	CmdFundPayout         = "fund.payout"
	CmdFundView           = "fund.view"
	CmdUsersManage        = "users.manage"
	CmdUsersView          = "users.view"
	CmdShiftClose         = "shift.close"
	CmdAssistantQuery     = "assistant.query"
	CmdArchivePurge       = "archive.purge"
)

// Authorizer checks commands against the role policy and scopes reads for restricted roles.
type Authorizer interface {
	Authorize(ctx context.Context, command string) error
	// ScopeUser returns the user id a read is limited to. Restricted roles always
	// get their own id and are denied when requesting someone else's.
	ScopeUser(ctx context.Context, requested int64) (int64, error)
}

// Authorize checks command with a, treating a nil authorizer as allow-all.
// The acting user must still be present in ctx.
func Authorize(ctx context.Context, a Authorizer, command string) (Actor, error) {
	actor, err := RequireActor(ctx)
	if err != nil {
		return Actor{}, err
	}
	if a == nil {
		return actor, nil
	}
	if err := a.Authorize(ctx, command); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// ScopeUser resolves the user a read is limited to, treating a nil authorizer as unrestricted.
func ScopeUser(ctx context.Context, a Authorizer, requested int64) (int64, error) {
	if a == nil {
		return requested, nil
	}
	return a.ScopeUser(ctx, requested)
}
