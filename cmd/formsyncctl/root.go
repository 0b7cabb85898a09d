package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// options resolves persistent settings from flags, then FORMSYNCCTL_*
// environment variables, then flag defaults.
type options struct {
	v *viper.Viper
}

func (o *options) serverURL() string { return strings.TrimRight(o.v.GetString("server"), "/") }
func (o *options) outputFmt() string { return o.v.GetString("output") }

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FORMSYNCCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	o := &options{v: v}

	cmd := &cobra.Command{
		Use:   "formsyncctl",
		Short: "CLI for the form-sync server",
		Long: `formsyncctl manages form templates on the form-sync server.

It pushes templates to the data-collection platform, pulls submissions that
the webhook missed, and inspects the sync log and the submission ledger.

Settings can also be given as FORMSYNCCTL_SERVER, FORMSYNCCTL_OUTPUT,
FORMSYNCCTL_USER, FORMSYNCCTL_ROLE and FORMSYNCCTL_TOKEN.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "Form-sync server URL")
	flags.StringP("output", "o", "table", "Output format: table, json, yaml")
	flags.String("user", "", "Caller identity sent as X-Remote-User (header auth mode)")
	flags.String("role", "operator", "Role sent as X-User-Role (header auth mode)")
	flags.String("token", "", "Bearer token (jwt auth mode)")
	_ = v.BindPFlags(flags)

	cmd.AddCommand(
		newHealthCmd(o),
		newTemplatesCmd(o),
		newSchemaCmd(o),
		newSyncCmd(o),
		newEnsureSyncedCmd(o),
		newPullCmd(o),
		newReceiptsCmd(o),
		newSubmissionsCmd(o),
		newSyncLogsCmd(o),
	)
	return cmd
}
