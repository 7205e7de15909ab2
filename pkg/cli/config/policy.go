package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/urfave/cli/v3"
)

// Policy holds CLI flags for the policy configuration file
type Policy struct {
	path string
}

// Flags returns CLI flags for policy configuration
func (p *Policy) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-file",
			Usage:       "Path to a TOML file overriding the built-in policy values",
			Sources:     cli.EnvVars("MNEMOSYNE_POLICY_FILE"),
			Destination: &p.path,
		},
	}
}

// Path returns the configured policy file path
func (p *Policy) Path() string {
	return p.path
}

// policyFile is the TOML schema of the policy override file. Every value is
// optional; unset values keep the built-in defaults. Durations are Go
// duration strings ("14d" is written "336h").
type policyFile struct {
	Dedup struct {
		NearThreshold *float64 `toml:"near_threshold"`
		RelatedFloor  *float64 `toml:"related_floor"`
		VectorWeight  *float64 `toml:"vector_weight"`
		LexicalWeight *float64 `toml:"lexical_weight"`
		ScanLimit     *int     `toml:"scan_limit"`
	} `toml:"dedup"`
	Lifecycle struct {
		StaleAfter   string `toml:"stale_after"`
		ArchiveAfter string `toml:"archive_after"`
		ExpireAfter  string `toml:"expire_after"`
		DeleteAfter  string `toml:"delete_after"`
	} `toml:"lifecycle"`
	Sync struct {
		Retention string `toml:"retention"`
	} `toml:"sync"`
	Coordination struct {
		SweepInterval   string `toml:"sweep_interval"`
		LockWait        string `toml:"lock_wait"`
		StoreRetry      *int   `toml:"store_retry"`
		OracleTimeout   string `toml:"oracle_timeout"`
		ConfirmationTTL string `toml:"confirmation_ttl"`
	} `toml:"coordination"`
}

// Configure returns the policy values: the built-in defaults overlaid with
// the policy file when one is configured.
func (p *Policy) Configure() (*model.PolicyConfig, error) {
	policy := model.DefaultPolicy()
	if p.path == "" {
		return policy, nil
	}

	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "policy file does not exist", goerr.V(ConfigPathKey, p.path))
		}
		return nil, goerr.Wrap(err, "failed to read policy file", goerr.V(ConfigPathKey, p.path))
	}

	var file policyFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse policy TOML",
			goerr.V(ConfigPathKey, p.path), goerr.V("parse_error", err.Error()))
	}

	if err := overlayPolicy(policy, &file); err != nil {
		return nil, goerr.Wrap(err, "invalid policy file", goerr.V(ConfigPathKey, p.path))
	}

	if err := policy.Validate(); err != nil {
		return nil, goerr.Wrap(err, "policy file fails validation", goerr.V(ConfigPathKey, p.path))
	}

	return policy, nil
}

func overlayPolicy(policy *model.PolicyConfig, file *policyFile) error {
	if v := file.Dedup.NearThreshold; v != nil {
		policy.NearThreshold = *v
	}
	if v := file.Dedup.RelatedFloor; v != nil {
		policy.RelatedFloor = *v
	}
	if v := file.Dedup.VectorWeight; v != nil {
		policy.VectorWeight = *v
	}
	if v := file.Dedup.LexicalWeight; v != nil {
		policy.LexicalWeight = *v
	}
	if v := file.Dedup.ScanLimit; v != nil {
		policy.ScanLimit = *v
	}
	if v := file.Coordination.StoreRetry; v != nil {
		policy.StoreRetry = *v
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"lifecycle.stale_after", file.Lifecycle.StaleAfter, &policy.StaleAfter},
		{"lifecycle.archive_after", file.Lifecycle.ArchiveAfter, &policy.ArchiveAfter},
		{"lifecycle.expire_after", file.Lifecycle.ExpireAfter, &policy.ExpireAfter},
		{"lifecycle.delete_after", file.Lifecycle.DeleteAfter, &policy.DeleteAfter},
		{"sync.retention", file.Sync.Retention, &policy.Retention},
		{"coordination.sweep_interval", file.Coordination.SweepInterval, &policy.SweepInterval},
		{"coordination.lock_wait", file.Coordination.LockWait, &policy.LockWait},
		{"coordination.oracle_timeout", file.Coordination.OracleTimeout, &policy.OracleTimeout},
		{"coordination.confirmation_ttl", file.Coordination.ConfirmationTTL, &policy.ConfirmationTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return goerr.Wrap(ErrInvalidDuration, "duration must parse like 30m, 12h or 168h",
				goerr.V(FieldKey, d.field), goerr.V("value", d.raw))
		}
		*d.dst = parsed
	}

	return nil
}
