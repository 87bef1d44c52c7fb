package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"go.pilab.hu/docflow/cmd/docflowctl/client"
	"go.pilab.hu/docflow/domain"
)

func newDeviceCmd(o *options) *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:     "device",
		Short:   "Manage devices",
		Aliases: []string{"devices"},
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a device; pairing starts with a confirmation email to the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			owner, _ := cmd.Flags().GetString("owner")
			deviceCode, _ := cmd.Flags().GetString("device-code")
			if owner == "" || deviceCode == "" {
				return errors.New("--owner and --device-code are required")
			}

			c, err := o.client(cmd)
			if err != nil {
				return err
			}
			meta, err := c.CreateDevice(cmd.Context(), client.DeviceRequest{ID: id, Owner: owner, DeviceCode: deviceCode})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), meta)
		},
	}
	createCmd.Flags().String("id", "", "document id (generated when empty)")
	createCmd.Flags().String("owner", "", "owner email address")
	createCmd.Flags().String("device-code", "", "code identifying the device")

	deviceCmd.AddCommand(createCmd)
	return deviceCmd
}

func newConfirmCmd(o *options) *cobra.Command {
	confirmCmd := &cobra.Command{
		Use:   "confirm <device-code> <code>",
		Short: "Follow a confirmation link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client(cmd)
			if err != nil {
				return err
			}
			meta, err := c.Confirm(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), meta)
		},
	}
	return confirmCmd
}

func newChannelCmd(o *options) *cobra.Command {
	channelCmd := &cobra.Command{
		Use:     "channel",
		Short:   "Manage channels",
		Aliases: []string{"channels"},
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a channel; private channels get their own namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			public, _ := cmd.Flags().GetBool("public")

			c, err := o.client(cmd)
			if err != nil {
				return err
			}
			meta, err := c.CreateChannel(cmd.Context(), client.ChannelRequest{ID: id, Name: args[0], Public: public})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), meta)
		},
	}
	createCmd.Flags().String("id", "", "document id (generated when empty)")
	createCmd.Flags().Bool("public", false, "create a public channel")

	channelCmd.AddCommand(createCmd)
	return channelCmd
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client(cmd)
			if err != nil {
				return err
			}
			doc, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), doc)
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List document headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			docType, _ := cmd.Flags().GetString("type")

			c, err := o.client(cmd)
			if err != nil {
				return err
			}
			metas, err := c.List(cmd.Context(), domain.DocType(docType))
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), metas)
		},
	}
	listCmd.Flags().String("type", "", "only documents of this type (device, confirm, channel)")
	return listCmd
}
