package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xxrust/device-version-manager/internal/store"
)

// SeedFileContents is the shape of the optional YAML bootstrap file: a
// fresh deployment's clusters/baselines/rules, so an operator doesn't have
// to script equivalent API calls (§10.5).
type SeedFileContents struct {
	Clusters []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"clusters"`

	Baselines []struct {
		ClusterName         string   `yaml:"cluster"`
		Vendor               string   `yaml:"vendor"`
		Model                string   `yaml:"model"`
		ExpectedMainVersion  string   `yaml:"expected_main_version"`
		AllowedMainGlobs     []string `yaml:"allowed_main_globs"`
	} `yaml:"baselines"`

	Rules []struct {
		ClusterName string   `yaml:"cluster"`
		Vendor      string   `yaml:"vendor"`
		Model       string   `yaml:"model"`
		Paths       []string `yaml:"paths"`
		Mode        string   `yaml:"mode"`
		MaxBytes    int      `yaml:"max_bytes"`
	} `yaml:"rules"`
}

// ApplySeedFile loads path (a no-op if empty) and upserts every cluster,
// baseline, and rule it names. Safe to run on every startup: clusters are
// looked up by name first, and baselines/rules upsert on their natural key.
func ApplySeedFile(ctx context.Context, st *store.Store, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %q: %w", path, err)
	}

	var seed SeedFileContents
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file %q: %w", path, err)
	}

	clusterIDs := map[string]int64{}
	for _, c := range seed.Clusters {
		existing, err := st.GetClusterByName(ctx, c.Name)
		if err == nil {
			clusterIDs[c.Name] = existing.ID
			continue
		}
		created, err := st.CreateCluster(ctx, c.Name, c.Description)
		if err != nil {
			return fmt.Errorf("seed cluster %q: %w", c.Name, err)
		}
		clusterIDs[c.Name] = created.ID
	}

	resolveCluster := func(name string) (int64, error) {
		if id, ok := clusterIDs[name]; ok {
			return id, nil
		}
		cluster, err := st.GetClusterByName(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("seed references unknown cluster %q: %w", name, err)
		}
		return cluster.ID, nil
	}

	for _, b := range seed.Baselines {
		clusterID, err := resolveCluster(b.ClusterName)
		if err != nil {
			return err
		}
		if _, err := st.UpsertBaseline(ctx, &store.Baseline{
			ClusterID: clusterID, Vendor: b.Vendor, Model: b.Model,
			ExpectedMainVersion: b.ExpectedMainVersion, AllowedMainGlobs: b.AllowedMainGlobs,
		}); err != nil {
			return fmt.Errorf("seed baseline %s/%s: %w", b.Vendor, b.Model, err)
		}
	}

	for _, rule := range seed.Rules {
		clusterID, err := resolveCluster(rule.ClusterName)
		if err != nil {
			return err
		}
		mode := store.RuleMode(rule.Mode)
		if mode == "" {
			mode = store.ModeAuto
		}
		if _, err := st.UpsertControlledFileRule(ctx, &store.ControlledFileRule{
			ClusterID: clusterID, Vendor: rule.Vendor, Model: rule.Model,
			Paths: rule.Paths, Mode: mode, MaxBytes: rule.MaxBytes,
		}); err != nil {
			return fmt.Errorf("seed rule %s/%s: %w", rule.Vendor, rule.Model, err)
		}
	}

	return nil
}
