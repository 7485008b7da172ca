package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/retailops/backoffice/internal/app"
	"github.com/retailops/backoffice/internal/platform/db"
	"github.com/retailops/backoffice/internal/posting"
)

// accountNamespace derives stable ids from account codes so reruns are no-ops.
var accountNamespace = uuid.MustParse("6f1c2a8e-3b4d-4e5f-9a6b-7c8d9e0f1a2b")

type seedAccount struct {
	Code    string
	Name    string
	Type    string
	Setting string
}

var chart = []seedAccount{
	{"1-1001", "Kas", "ASSET", posting.SettingCash},
	{"1-1002", "Bank", "ASSET", posting.SettingBank},
	{"1-1003", "Bank BCA Operasional", "ASSET", ""},
	{"1-1101", "Piutang Usaha", "ASSET", posting.SettingReceivable},
	{"1-1102", "Piutang Marketplace", "ASSET", posting.SettingMarketplaceReceivable},
	{"1-1201", "Persediaan Barang Dagang", "ASSET", posting.SettingInventory},
	{"2-1001", "Hutang Usaha", "LIABILITY", posting.SettingPayable},
	{"4-1001", "Penjualan", "REVENUE", posting.SettingRevenue},
	{"4-1002", "Penjualan Shopee", "REVENUE", ""},
	{"4-1101", "Retur Penjualan", "REVENUE", posting.SettingSalesReturn},
	{"4-2001", "Selisih Persediaan (Laba)", "REVENUE", posting.SettingStockGain},
	{"5-1001", "Harga Pokok Penjualan", "EXPENSE", posting.SettingCOGS},
	{"6-1001", "Biaya Admin Marketplace", "EXPENSE", posting.SettingMarketplaceFee},
	{"6-2001", "Selisih Persediaan (Rugi)", "EXPENSE", posting.SettingStockLoss},
}

func accountID(code string) uuid.UUID {
	return uuid.NewSHA1(accountNamespace, []byte(code))
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "backoffice-seed"})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		fmt.Println("→ Seeding chart of accounts...")
		if err := seedChart(ctx, tx); err != nil {
			return fmt.Errorf("chart of accounts: %w", err)
		}
		fmt.Println("→ Seeding bank accounts...")
		if err := seedBankAccounts(ctx, tx); err != nil {
			return fmt.Errorf("bank accounts: %w", err)
		}
		fmt.Println("→ Seeding account mappings...")
		if err := seedMappings(ctx, tx); err != nil {
			return fmt.Errorf("account mappings: %w", err)
		}
		fmt.Println("→ Seeding accounting period...")
		if err := seedPeriod(ctx, tx, time.Now()); err != nil {
			return fmt.Errorf("accounting period: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedChart(ctx context.Context, tx pgx.Tx) error {
	for _, a := range chart {
		id := accountID(a.Code)
		if _, err := tx.Exec(ctx, `INSERT INTO chart_of_accounts (id, code, name, type)
VALUES ($1, $2, $3, $4) ON CONFLICT (code) DO NOTHING`, id, a.Code, a.Name, a.Type); err != nil {
			return err
		}
		if a.Setting == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `INSERT INTO settings (setting_key, setting_value)
VALUES ($1, $2) ON CONFLICT (setting_key) DO NOTHING`, a.Setting, id.String()); err != nil {
			return err
		}
	}
	return nil
}

func seedBankAccounts(ctx context.Context, tx pgx.Tx) error {
	id := uuid.NewSHA1(accountNamespace, []byte("bank:bca-operasional"))
	_, err := tx.Exec(ctx, `INSERT INTO bank_accounts (id, bank_name, account_number, account_id)
VALUES ($1, 'BCA', '0001234567', $2) ON CONFLICT (id) DO NOTHING`, id, accountID("1-1003"))
	return err
}

func seedMappings(ctx context.Context, tx pgx.Tx) error {
	rows := []struct {
		EventType   string
		Side        string
		Code        string
		Marketplace string
		Priority    int
	}{
		{posting.EventSalesRevenue, "credit", "4-1002", "shopee", 10},
	}
	for _, r := range rows {
		id := uuid.NewSHA1(accountNamespace, []byte(r.EventType+":"+r.Side+":"+r.Marketplace))
		if _, err := tx.Exec(ctx, `INSERT INTO account_mappings (id, event_type, event_context, side, account_id, marketplace_code, priority)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7) ON CONFLICT (id) DO NOTHING`,
			id, r.EventType, r.Marketplace, r.Side, accountID(r.Code), r.Marketplace, r.Priority); err != nil {
			return err
		}
	}
	return nil
}

func seedPeriod(ctx context.Context, tx pgx.Tx, now time.Time) error {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	_, err := tx.Exec(ctx, `INSERT INTO accounting_periods (id, period_name, start_date, end_date, is_open)
VALUES ($1, $2, $3, $4, TRUE) ON CONFLICT (period_name) DO NOTHING`,
		uuid.New(), start.Format("2006-01"), start, end)
	return err
}
