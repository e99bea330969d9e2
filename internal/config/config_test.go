package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.CapacityGrace)
		assert.Equal(t, "console", cfg.Events.Broker)
		assert.Equal(t, 30*time.Minute, cfg.Payments.CheckoutTTL)
		assert.Equal(t, []string{"localhost:9092"}, cfg.Events.KafkaBrokers)
		assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
		assert.Equal(t, 5*time.Minute, cfg.Outbox.LeaseTimeout)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
		t.Setenv("CAPACITY_GRACE", "0")
		t.Setenv("EVENTS_BROKER", "kafka")
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 0, cfg.CapacityGrace)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		t.Setenv("STRIPE_WEBHOOK_SECRET", "")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("negative grace", func(t *testing.T) {
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
		t.Setenv("CAPACITY_GRACE", "-1")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown broker", func(t *testing.T) {
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
		t.Setenv("EVENTS_BROKER", "carrier-pigeon")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("outbox timings must be positive", func(t *testing.T) {
		tests := []struct {
			name  string
			key   string
			value string
		}{
			{name: "zero poll interval", key: "OUTBOX_POLL_INTERVAL", value: "0"},
			{name: "negative poll interval", key: "OUTBOX_POLL_INTERVAL", value: "-1s"},
			{name: "zero lease", key: "OUTBOX_LEASE_TIMEOUT", value: "0s"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
				t.Setenv(tt.key, tt.value)

				_, err := Load()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.key)
			})
		}
	})
}

func TestDatabaseDSN(t *testing.T) {
	d := Database{Host: "db", Port: 5433, User: "u", Password: "p", Name: "meals", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=meals sslmode=disable", d.DSN())
}
