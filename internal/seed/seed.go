package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	credentialdomain "github.com/commercekit/paygate/internal/credential/domain"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const demoReference = "ref-demo-0001"

// EnsureDevFixtures seeds test-mode credentials and one pending order so a
// fresh development database can accept signed deliveries immediately. Live
// credentials are managed through the settings surface, never seeded.
func EnsureDevFixtures(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCredentialsTx(ctx, tx, node); err != nil {
			return err
		}
		return ensureDemoOrderTx(ctx, tx, node)
	})
}

func ensureCredentialsTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	fixtures := map[string]datatypes.JSONMap{
		paymentdomain.ProviderCard: {
			"webhook_secret": "whsec_dev_card",
		},
		paymentdomain.ProviderWallet: {
			"client_id":     "dev-client",
			"client_secret": "dev-secret",
			"webhook_id":    "dev-webhook",
			"api_base_url":  "https://api.sandbox.walletpay.example",
		},
		paymentdomain.ProviderDirectDebit: {
			"webhook_secret": "whsec_dev_dd",
		},
	}

	for provider, keys := range fixtures {
		var count int64
		err := tx.WithContext(ctx).
			Model(&credentialdomain.WebhookCredential{}).
			Where("provider = ? AND is_active = ?", provider, true).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		row := &credentialdomain.WebhookCredential{
			ID:       node.Generate(),
			Provider: provider,
			Mode:     credentialdomain.ModeTest,
			Keys:     keys,
			IsActive: true,
		}
		if err := tx.WithContext(ctx).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureDemoOrderTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("checkout_reference = ?", demoReference).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	order := &orderdomain.Order{
		ID:                node.Generate(),
		CheckoutReference: demoReference,
		SessionID:         "sess-demo-0001",
		PaymentMethod:     paymentdomain.ProviderCard,
		PaymentStatus:     orderdomain.PaymentStatusPending,
		TotalAmount:       4999,
		Currency:          "EUR",
		ProviderMetadata:  datatypes.JSONMap{},
	}
	return tx.WithContext(ctx).Create(order).Error
}
