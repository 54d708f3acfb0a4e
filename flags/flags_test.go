package flags

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	require.True(t, errors.Is(Usage("--%s is required", "workspace"), ErrArgumentUsage))
	require.EqualError(t, Usage("--%s is required", "workspace"), "invalid arguments: --workspace is required")
	require.True(t, errors.Is(Invalid("bad"), ErrValidation))
	require.False(t, errors.Is(Invalid("bad"), ErrArgumentUsage))
}

func TestGlobalValidate(t *testing.T) {
	valid := Global{LogFormat: "text", Output: "yaml", Timeout: time.Second}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.LogFormat = "xml"
	require.ErrorIs(t, bad.Validate(), ErrArgumentUsage)

	bad = valid
	bad.Output = "table"
	require.ErrorIs(t, bad.Validate(), ErrArgumentUsage)

	bad = valid
	bad.Timeout = 0
	require.ErrorIs(t, bad.Validate(), ErrValidation)
}

func newFlagSet(g *Global, w *Workspace, f *Filters) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindGlobal(fs, g)
	w.Bind(fs, "source", "source workspace")
	f.Bind(fs)
	return fs
}

func TestApply(t *testing.T) {
	t.Setenv("AZURE_SUBSCRIPTION_ID", "")
	dir := t.TempDir()
	config := filepath.Join(dir, "amgctl.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
output: yaml
timeout: 5s
source: from-config
folders-to-include: [Team A, Team B]
`), 0o644))

	t.Run("flag over environment over config", func(t *testing.T) {
		t.Setenv("AMG_OUTPUT", "json")
		t.Setenv("AMG_SOURCE_RESOURCE_GROUP", "rg-env")
		var (
			g Global
			w Workspace
			f Filters
		)
		fs := newFlagSet(&g, &w, &f)
		require.NoError(t, fs.Parse([]string{"--source", "from-flag"}))

		v, err := NewViper(config)
		require.NoError(t, err)
		require.NoError(t, Apply(fs, v))

		require.Equal(t, "from-flag", w.Workspace)
		require.Equal(t, "rg-env", w.ResourceGroup)
		require.Equal(t, "json", g.Output)
		require.Equal(t, 5*time.Second, g.Timeout)
		require.Equal(t, []string{"Team A", "Team B"}, f.FoldersInclude)
		require.Equal(t, "Team A", f.Folders().Include[0])
	})

	t.Run("subscription from the Azure variable", func(t *testing.T) {
		t.Setenv("AZURE_SUBSCRIPTION_ID", "sub-1")
		var (
			g Global
			w Workspace
			f Filters
		)
		fs := newFlagSet(&g, &w, &f)
		require.NoError(t, fs.Parse(nil))
		v, err := NewViper(config)
		require.NoError(t, err)
		require.NoError(t, Apply(fs, v))
		require.Equal(t, "sub-1", g.Subscription)
	})

	t.Run("bad value", func(t *testing.T) {
		t.Setenv("AMG_TIMEOUT", "soon")
		var (
			g Global
			w Workspace
			f Filters
		)
		fs := newFlagSet(&g, &w, &f)
		require.NoError(t, fs.Parse(nil))
		v, err := NewViper(config)
		require.NoError(t, err)
		require.ErrorIs(t, Apply(fs, v), ErrValidation)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := NewViper(filepath.Join(dir, "nope.yaml"))
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestWorkspace(t *testing.T) {
	t.Run("default names", func(t *testing.T) {
		var w Workspace
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		w.Bind(fs, "", "workspace")
		require.NoError(t, fs.Parse([]string{"-w", "g1", "-g", "rg"}))
		require.Equal(t, Workspace{Workspace: "g1", ResourceGroup: "rg"}, w)
		require.NoError(t, w.Validate("workspace"))
	})

	t.Run("required", func(t *testing.T) {
		var w Workspace
		require.ErrorIs(t, w.Validate("destination"), ErrArgumentUsage)
		require.ErrorContains(t, w.Validate("destination"), "--destination is required")
	})

	t.Run("token falls back to GRAFANA_TOKEN", func(t *testing.T) {
		t.Setenv("GRAFANA_TOKEN", "env-token")
		w := Workspace{}
		require.Equal(t, "env-token", w.APIToken())
		w.Token = "flag-token"
		require.Equal(t, "flag-token", w.APIToken())
	})
}
