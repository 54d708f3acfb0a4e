package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/grafana/amgctl/api"
	"github.com/grafana/amgctl/inventory"
)

const (
	EnvPrefix       = "AMG"
	EnvGrafanaToken = "GRAFANA_TOKEN"
	EnvSubscription = "AZURE_SUBSCRIPTION_ID"
	ConfigName      = "amgctl"
)

var (
	// ErrArgumentUsage marks errors caused by how the command was invoked.
	ErrArgumentUsage = errors.New("invalid arguments")
	// ErrValidation marks flag values that are well formed but unusable.
	ErrValidation = errors.New("validation failed")
)

// Usage returns an error wrapping ErrArgumentUsage.
func Usage(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrArgumentUsage, fmt.Sprintf(format, v...))
}

// Invalid returns an error wrapping ErrValidation.
func Invalid(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, v...))
}

// Global holds the flags shared by every command.
type Global struct {
	Verbose      bool
	Debug        bool
	LogFormat    string
	Output       string
	Timeout      time.Duration
	Config       string
	Subscription string
}

// BindGlobal registers the global flags on fs.
func BindGlobal(fs *pflag.FlagSet, g *Global) {
	fs.BoolVarP(&g.Verbose, "verbose", "v", false, "verbose output")
	fs.BoolVar(&g.Debug, "debug", false, "keep intermediate backup and restore files (env AMG_DEBUG)")
	fs.StringVar(&g.LogFormat, "log-format", "text", "log format: text or json")
	fs.StringVarP(&g.Output, "output", "o", "text", "summary format: text, json or yaml")
	fs.DurationVar(&g.Timeout, "timeout", api.DefaultTimeout, "timeout of each Grafana API request")
	fs.StringVar(&g.Config, "config", "", "config file (default: ./amgctl.yaml or $HOME/amgctl.yaml)")
	fs.StringVar(&g.Subscription, "subscription", "", "Azure subscription id (env AZURE_SUBSCRIPTION_ID)")
}

// Validate checks the global flags.
func (g *Global) Validate() error {
	switch g.LogFormat {
	case "text", "json":
	default:
		return Usage("--log-format must be text or json, got %q", g.LogFormat)
	}
	switch g.Output {
	case "text", "json", "yaml":
	default:
		return Usage("--output must be text, json or yaml, got %q", g.Output)
	}
	if g.Timeout <= 0 {
		return Invalid("--timeout must be positive")
	}
	return nil
}

// NewViper returns a viper instance reading AMG_* environment variables and
// the optional config file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("subscription", EnvPrefix+"_SUBSCRIPTION", EnvSubscription)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, Invalid("read config %q: %v", configFile, err)
		}
		return v, nil
	}
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, Invalid("read config: %v", err)
		}
	}
	return v, nil
}

// Apply sets every flag of fs not given on the command line from v, so
// that flags take precedence over the environment, which takes precedence
// over the config file.
func Apply(fs *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		var value string
		switch val := v.Get(f.Name).(type) {
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			value = strings.Join(parts, ",")
		case []string:
			value = strings.Join(val, ",")
		default:
			value = fmt.Sprint(val)
		}
		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, Invalid("%s: %v", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Workspace identifies one Grafana, by URL or by workspace name.
type Workspace struct {
	Workspace     string
	ResourceGroup string
	Token         string
}

// Bind registers --<name>, --<name>-resource-group and --<name>-token. An
// empty name registers --workspace, --resource-group and --token.
func (w *Workspace) Bind(fs *pflag.FlagSet, name, usage string) {
	if name == "" {
		fs.StringVarP(&w.Workspace, "workspace", "w", "", usage)
		fs.StringVarP(&w.ResourceGroup, "resource-group", "g", "", "resource group of the workspace")
		fs.StringVar(&w.Token, "token", "", "Grafana API token or user:password (env GRAFANA_TOKEN)")
		return
	}
	fs.StringVar(&w.Workspace, name, "", usage)
	fs.StringVar(&w.ResourceGroup, name+"-resource-group", "", "resource group of the "+name+" workspace")
	fs.StringVar(&w.Token, name+"-token", "", "Grafana API token or user:password for the "+name+" (env GRAFANA_TOKEN)")
}

// Validate checks that a workspace was given. flag names the option.
func (w *Workspace) Validate(flag string) error {
	if strings.TrimSpace(w.Workspace) == "" {
		return Usage("--%s is required", flag)
	}
	return nil
}

// APIToken returns the token flag, falling back to GRAFANA_TOKEN.
func (w *Workspace) APIToken() string {
	if w.Token != "" {
		return w.Token
	}
	return os.Getenv(EnvGrafanaToken)
}

// Filters are the include and exclude lists shared by the commands.
type Filters struct {
	FoldersInclude    []string
	FoldersExclude    []string
	DashboardsInclude []string
	DashboardsExclude []string
}

// Bind registers the folder and dashboard filters.
func (f *Filters) Bind(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.FoldersInclude, "folders-to-include", nil, "folder titles to include, case-insensitive")
	fs.StringSliceVar(&f.FoldersExclude, "folders-to-exclude", nil, "folder titles to exclude, case-insensitive")
	fs.StringSliceVar(&f.DashboardsInclude, "dashboards-to-include", nil, "dashboard titles to include, case-insensitive")
	fs.StringSliceVar(&f.DashboardsExclude, "dashboards-to-exclude", nil, "dashboard titles to exclude, case-insensitive")
}

func (f Filters) Folders() inventory.Filter {
	return inventory.Filter{Include: f.FoldersInclude, Exclude: f.FoldersExclude}
}

func (f Filters) Dashboards() inventory.Filter {
	return inventory.Filter{Include: f.DashboardsInclude, Exclude: f.DashboardsExclude}
}
