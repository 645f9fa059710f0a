// Package manifest loads the engine configuration and skill/instance
// definitions: a TOML manifest for the engine and its instances, and a
// skill.yaml per skill directory for tool specs. Container specs are
// validated against the hard security constraints here, at load time.
package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/clawinfra/skillclaw/internal/policy"
	"github.com/clawinfra/skillclaw/internal/skill"
)

// Config is the [engine] section of the manifest.
type Config struct {
	SkillsDir          string `toml:"skills_dir"`
	AuditLog           string `toml:"audit_log"`
	HistoryDB          string `toml:"history_db"`
	VaultFile          string `toml:"vault_file"`
	DefaultTimeoutSecs int    `toml:"default_timeout_secs"`
	WasmMemoryPages    uint32 `toml:"wasm_memory_pages"`
	DockerBinary       string `toml:"docker_binary"`
	LogLevel           string `toml:"log_level"`
}

// DefaultTimeout converts the configured seconds into a duration.
func (c *Config) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(c.DefaultTimeoutSecs) * time.Second
}

// DefaultConfig returns the ~/.skillclaw layout.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".skillclaw")
	return Config{
		SkillsDir:          filepath.Join(base, "skills"),
		AuditLog:           filepath.Join(base, "audit.log"),
		HistoryDB:          filepath.Join(base, "history.db"),
		VaultFile:          filepath.Join(base, "vault.sealed"),
		DefaultTimeoutSecs: 30,
		LogLevel:           "info",
	}
}

// instanceDef is one [instances.<skill>.<name>] table.
type instanceDef struct {
	Serialized  bool                   `toml:"serialized"`
	TimeoutSecs int                    `toml:"timeout_secs"`
	Config      map[string]string      `toml:"config"`
	Credentials []skill.CredentialRef  `toml:"credentials"`
	Policy      skill.CapabilityPolicy `toml:"policy"`
}

type file struct {
	Engine    Config                            `toml:"engine"`
	Instances map[string]map[string]instanceDef `toml:"instances"`
}

// Load parses the manifest at path, loads every skill under the skills
// directory and returns a populated registry. A missing manifest file
// yields the default configuration with an empty registry.
func Load(path string, logger *slog.Logger) (*skill.Registry, Config, error) {
	cfg := DefaultConfig()
	var f file
	f.Engine = cfg

	if _, err := toml.DecodeFile(path, &f); err != nil {
		if !os.IsNotExist(err) {
			return nil, cfg, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		logger.Info("no manifest found, using defaults", "path", path)
	}
	cfg = f.Engine
	cfg.SkillsDir = expandHome(cfg.SkillsDir)
	cfg.AuditLog = expandHome(cfg.AuditLog)
	cfg.HistoryDB = expandHome(cfg.HistoryDB)
	cfg.VaultFile = expandHome(cfg.VaultFile)

	registry := skill.NewRegistry(logger)
	defs, err := loadSkills(cfg.SkillsDir, logger)
	if err != nil {
		return nil, cfg, err
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return nil, cfg, err
		}
	}

	if err := registerInstances(registry, f.Instances, defs); err != nil {
		return nil, cfg, err
	}
	return registry, cfg, nil
}

// loadSkills reads every <dir>/<skill>/skill.yaml.
func loadSkills(dir string, logger *slog.Logger) ([]*skill.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("skills directory does not exist, skipping", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var defs []*skill.Definition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		specPath := filepath.Join(dir, entry.Name(), "skill.yaml")
		def, err := LoadSkill(specPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		defs = append(defs, def)
		logger.Debug("skill loaded", "skill", def.Name, "runtime", def.Runtime)
	}
	return defs, nil
}

// LoadSkill parses a single skill.yaml and validates it, including the
// container mount constraints for container skills.
func LoadSkill(path string) (*skill.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def skill.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := skill.ValidateDefinition(&def); err != nil {
		return nil, fmt.Errorf("invalid skill at %s: %w", path, err)
	}
	if def.Runtime == skill.RuntimeWasm && !filepath.IsAbs(def.Module) {
		def.Module = filepath.Join(filepath.Dir(path), def.Module)
	}
	if def.Runtime == skill.RuntimeContainer {
		if err := policy.ValidateContainer(def.Container); err != nil {
			return nil, fmt.Errorf("skill at %s: %w", path, err)
		}
	}
	return &def, nil
}

// credentialKeyPattern is the allow-list for credential key names. Keys
// become vault entry segments and staged secret file names, so the same
// strict charset used for commands applies.
var credentialKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// registerInstances wires declared instances, and gives any skill with
// no declaration a locked-down "default" instance (empty policy: no
// hosts, no paths, no commands).
func registerInstances(registry *skill.Registry, declared map[string]map[string]instanceDef, defs []*skill.Definition) error {
	for skillName, instances := range declared {
		for instName, d := range instances {
			for _, ref := range d.Credentials {
				if !credentialKeyPattern.MatchString(ref.Key) {
					return fmt.Errorf("instance %s/%s: credential key %q contains disallowed characters", skillName, instName, ref.Key)
				}
			}
			inst := &skill.Instance{
				Skill:       skillName,
				Name:        instName,
				Policy:      d.Policy,
				Config:      d.Config,
				Credentials: d.Credentials,
				Serialized:  d.Serialized,
			}
			if d.TimeoutSecs > 0 {
				inst.Timeout = time.Duration(d.TimeoutSecs) * time.Second
			}
			if err := registry.RegisterInstance(inst); err != nil {
				return err
			}
		}
	}
	for _, def := range defs {
		if len(registry.Instances(def.Name)) == 0 {
			if err := registry.RegisterInstance(&skill.Instance{Skill: def.Name, Name: "default"}); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
