package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600)).Required()
	return path
}

func TestPolicy_Configure(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg := config.NewPolicyForTest("")
		policy, err := cfg.Configure()
		gt.NoError(t, err).Required()
		gt.Value(t, policy).Equal(model.DefaultPolicy())
	})

	t.Run("file values overlay the defaults", func(t *testing.T) {
		path := writePolicyFile(t, `
[dedup]
near_threshold = 0.9
scan_limit = 32

[lifecycle]
stale_after = "240h"

[coordination]
confirmation_ttl = "30m"
store_retry = 5
`)
		cfg := config.NewPolicyForTest(path)
		policy, err := cfg.Configure()
		gt.NoError(t, err).Required()

		gt.Value(t, policy.NearThreshold).Equal(0.9)
		gt.Value(t, policy.ScanLimit).Equal(32)
		gt.Value(t, policy.StaleAfter).Equal(240 * time.Hour)
		gt.Value(t, policy.ConfirmationTTL).Equal(30 * time.Minute)
		gt.Value(t, policy.StoreRetry).Equal(5)

		// untouched values keep the defaults
		gt.Value(t, policy.RelatedFloor).Equal(model.DefaultPolicy().RelatedFloor)
		gt.Value(t, policy.Retention).Equal(model.DefaultPolicy().Retention)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := config.NewPolicyForTest(filepath.Join(t.TempDir(), "absent.toml"))
		_, err := cfg.Configure()
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrConfigNotFound)).True()
	})

	t.Run("broken TOML", func(t *testing.T) {
		path := writePolicyFile(t, "not toml at all [")
		cfg := config.NewPolicyForTest(path)
		_, err := cfg.Configure()
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("unparsable duration", func(t *testing.T) {
		path := writePolicyFile(t, `
[lifecycle]
stale_after = "two weeks"
`)
		cfg := config.NewPolicyForTest(path)
		_, err := cfg.Configure()
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, config.ErrInvalidDuration)).True()
	})

	t.Run("values violating policy invariants are rejected", func(t *testing.T) {
		path := writePolicyFile(t, `
[dedup]
near_threshold = 0.4
related_floor = 0.6
`)
		cfg := config.NewPolicyForTest(path)
		_, err := cfg.Configure()
		gt.Error(t, err)
	})
}
