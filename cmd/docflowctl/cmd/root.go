package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/docflow/cmd/docflowctl/client"
	"go.pilab.hu/docflow/log"
)

const AppName = "docflowctl"

type options struct {
	v      *viper.Viper
	logger log.Logger
}

// NewRootCmd builds the command tree. Settings come from flags, then
// DOCFLOWCTL_* environment variables.
func NewRootCmd() *cobra.Command {
	o := &options{v: viper.New()}
	o.v.SetEnvPrefix(strings.ToUpper(AppName))
	o.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           AppName,
		Short:         "docflowctl creates and inspects workflow documents",
		Long:          `A command-line client for the docflow HTTP API: register devices and channels, follow confirmation links and inspect document state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if o.v.GetBool("verbose") {
				level = zerolog.DebugLevel
			}
			o.logger = log.NewZerologAdapter(level, true)
		},
	}

	flags := root.PersistentFlags()
	flags.String("endpoint", "http://localhost:8080", "docflow server endpoint")
	flags.StringP("output", "o", "yaml", "output format: yaml or json")
	flags.BoolP("verbose", "v", false, "log requests")
	for _, name := range []string{"endpoint", "output", "verbose"} {
		_ = o.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newDeviceCmd(o),
		newConfirmCmd(o),
		newChannelCmd(o),
		newGetCmd(o),
		newListCmd(o),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *options) client(cmd *cobra.Command) (*client.Client, error) {
	endpoint := o.v.GetString("endpoint")
	if o.logger != nil {
		o.logger.Debug(cmd.Context(), "Using endpoint", map[string]interface{}{"endpoint": endpoint, "command": cmd.Name()})
	}
	return client.New(endpoint)
}

func (o *options) print(w io.Writer, v any) error {
	switch o.v.GetString("output") {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(toYAMLable(v))
	default:
		return fmt.Errorf("unknown output format %q", o.v.GetString("output"))
	}
}

// toYAMLable routes v through JSON so the json tags decide the field names.
func toYAMLable(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(buf, &generic); err != nil {
		return v
	}
	return generic
}
