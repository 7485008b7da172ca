package posting

// Event types as stored in account_mappings.event_type. Except for the
// sales role keys, each one doubles as the journal reference type.
const (
	EventPurchaseReceipt   = "purchase_receipt"
	EventPurchasePayment   = "purchase_payment"
	EventPurchaseReturn    = "purchase_return"
	EventSalesOrder        = "sales_order"
	EventSalesRevenue      = "sales_revenue"
	EventSalesFee          = "sales_fee"
	EventSalesCOGS         = "sales_cogs"
	EventSalesReturn       = "sales_return"
	EventStockAdjustment   = "stock_adjustment"
	EventStockOpname       = "stock_opname"
	EventMarketplacePayout = "marketplace_payout"
	EventCustomerPayment   = "customer_payment"
)

// Mapping contexts.
const (
	ContextIncrease = "increase"
	ContextDecrease = "decrease"
	ContextSurplus  = "surplus"
	ContextShortage = "shortage"
)

// Payment methods accepted on settlement legs.
const (
	MethodCash        = "cash"
	MethodBank        = "bank"
	MethodCredit      = "credit"
	MethodMarketplace = "marketplace"
)

// Legacy setting keys consulted when no mapping row matches.
const (
	SettingInventory             = "account_persediaan"
	SettingPayable               = "account_hutang_usaha"
	SettingCash                  = "account_kas"
	SettingBank                  = "account_bank"
	SettingReceivable            = "account_piutang"
	SettingMarketplaceReceivable = "account_piutang_marketplace"
	SettingRevenue               = "account_penjualan"
	SettingSalesReturn           = "account_retur_penjualan"
	SettingMarketplaceFee        = "account_biaya_admin_marketplace"
	SettingCOGS                  = "account_hpp"
	SettingStockGain             = "account_selisih_persediaan_laba"
	SettingStockLoss             = "account_selisih_persediaan_rugi"
)

// Idempotency modules.
const (
	modulePurchaseReceipt = "posting.purchase_receipt"
	modulePurchasePayment = "posting.purchase_payment"
	moduleStockAdjustment = "posting.stock_adjustment"
)
