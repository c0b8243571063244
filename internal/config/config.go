// Package config loads orchestrator configuration from an optional YAML
// file and ORCHESTRATOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine kinds accepted by Engine.Kind.
const (
	EngineSync        = "sync"
	EngineGoWorkflows = "goworkflows"
	EngineDBOS        = "dbos"
)

// Config is the full orchestrator configuration.
type Config struct {
	Database  Database
	Engine    Engine
	Retry     Retry
	Timeouts  Timeouts
	OpenStack OpenStack
	Ansible   Ansible
	Log       Log
	Metrics   Metrics
}

// Database configures the deployment store.
type Database struct {
	// Path is the sqlite database file.
	Path string
}

// Engine selects and tunes the durable workflow backend.
type Engine struct {
	// Kind is one of sync, goworkflows, dbos.
	Kind string
	// FanOut caps concurrent activities in one batch.
	FanOut int
	// TransactionalUpdate reverts applied mutations when an update
	// workflow fails partway.
	TransactionalUpdate bool
	// WorkflowDatabasePath is the sqlite file backing the goworkflows
	// engine's history.
	WorkflowDatabasePath string
	// DatabaseURL is the postgres URL backing the dbos engine.
	DatabaseURL string
	// AwaitTimeout caps how long a client waits on one workflow result.
	AwaitTimeout time.Duration
}

// Retry tunes backend retry behavior.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Timeouts bound backend calls and polls.
type Timeouts struct {
	Backend      time.Duration
	PollInterval time.Duration
	VMActive     time.Duration
	VMGone       time.Duration
	Playbook     time.Duration
}

// OpenStack holds Keystone credentials and endpoint selection.
type OpenStack struct {
	AuthURL     string
	Username    string
	Password    string
	ProjectName string
	DomainName  string
	Region      string
}

// Ansible configures the playbook runner.
type Ansible struct {
	// Binary is the ansible-playbook executable to invoke.
	Binary string
	// PlaybookDir is prepended to relative playbook paths.
	PlaybookDir string
	// Verbosity adds -v flags to every run, 0 through 4.
	Verbosity int
}

// Log configures process logging.
type Log struct {
	Level string
	JSON  bool
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string
}

// Load reads configuration from path (or ./orchestrator.yaml when path is
// empty) and the environment. Environment keys are the config keys
// uppercased with ORCHESTRATOR_ prefixed and dots replaced by underscores,
// e.g. ORCHESTRATOR_OPENSTACK_PASSWORD.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orchestrator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicit one must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Database: Database{
			Path: v.GetString("database.path"),
		},
		Engine: Engine{
			Kind:                 v.GetString("engine.kind"),
			FanOut:               v.GetInt("engine.fanout"),
			TransactionalUpdate:  v.GetBool("engine.transactional_update"),
			WorkflowDatabasePath: v.GetString("engine.workflow_database_path"),
			DatabaseURL:          v.GetString("engine.database_url"),
			AwaitTimeout:         v.GetDuration("engine.await_timeout"),
		},
		Retry: Retry{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
		},
		Timeouts: Timeouts{
			Backend:      v.GetDuration("timeouts.backend"),
			PollInterval: v.GetDuration("timeouts.poll_interval"),
			VMActive:     v.GetDuration("timeouts.vm_active"),
			VMGone:       v.GetDuration("timeouts.vm_gone"),
			Playbook:     v.GetDuration("timeouts.playbook"),
		},
		OpenStack: OpenStack{
			AuthURL:     v.GetString("openstack.auth_url"),
			Username:    v.GetString("openstack.username"),
			Password:    v.GetString("openstack.password"),
			ProjectName: v.GetString("openstack.project_name"),
			DomainName:  v.GetString("openstack.domain_name"),
			Region:      v.GetString("openstack.region"),
		},
		Ansible: Ansible{
			Binary:      v.GetString("ansible.binary"),
			PlaybookDir: v.GetString("ansible.playbook_dir"),
			Verbosity:   v.GetInt("ansible.verbosity"),
		},
		Log: Log{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
		Metrics: Metrics{
			Addr: v.GetString("metrics.addr"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "orchestrator.db")
	v.SetDefault("engine.kind", EngineSync)
	v.SetDefault("engine.fanout", 8)
	v.SetDefault("engine.transactional_update", false)
	v.SetDefault("engine.workflow_database_path", "workflows.db")
	v.SetDefault("engine.database_url", "")
	v.SetDefault("engine.await_timeout", 30*time.Minute)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("timeouts.backend", 60*time.Second)
	v.SetDefault("timeouts.poll_interval", 5*time.Second)
	v.SetDefault("timeouts.vm_active", 5*time.Minute)
	v.SetDefault("timeouts.vm_gone", 2*time.Minute)
	v.SetDefault("timeouts.playbook", 5*time.Minute)
	v.SetDefault("openstack.domain_name", "Default")
	v.SetDefault("ansible.binary", "ansible-playbook")
	v.SetDefault("ansible.playbook_dir", "")
	v.SetDefault("ansible.verbosity", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	switch c.Engine.Kind {
	case EngineSync, EngineGoWorkflows, EngineDBOS:
	default:
		return fmt.Errorf("engine.kind %q: must be one of %s, %s, %s",
			c.Engine.Kind, EngineSync, EngineGoWorkflows, EngineDBOS)
	}
	if c.Engine.Kind == EngineDBOS && c.Engine.DatabaseURL == "" {
		return fmt.Errorf("engine.database_url is required for the %s engine", EngineDBOS)
	}
	if c.Engine.FanOut < 1 {
		return fmt.Errorf("engine.fanout %d: must be at least 1", c.Engine.FanOut)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}
