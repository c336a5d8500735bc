package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"burrow/internal/provision"
	"burrow/internal/runtime"
)

func createCmd() *cobra.Command {
	var (
		template  string
		ip        string
		gateway   string
		netmask   string
		bindHome  string
		account   string
		mirror    string
		packages  []string
		autostart bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create and provision a new container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx := cmd.Context()
			cfg := app.cfg

			if template == "" {
				template = cfg.Create.Template
			}
			if gateway == "" {
				gateway = cfg.Create.GatewayIP
			}
			if netmask == "" {
				netmask = cfg.Create.Netmask
			}
			if mirror == "" {
				mirror = cfg.Create.MirrorURL
			}
			if len(packages) == 0 {
				packages = cfg.Create.Packages
			}

			if app.reg.Exists(ctx, name) {
				return fmt.Errorf("container %q already exists", name)
			}
			if cfg.Runtime == "lxc" && ip == "" {
				return fmt.Errorf("--ip is required to provision a new container")
			}

			return app.audited(ctx, "create", name, func() error {
				spec := runtime.TemplateSpec{Template: template, Autostart: autostart}
				if err := app.gw.Create(ctx, name, spec); err != nil {
					return err
				}

				// The docker engine provisions its own containers; the
				// filesystem templating below is for LXC rootfs trees.
				if cfg.Runtime == "lxc" {
					err := app.prov.Apply(provision.Spec{
						Name:      name,
						IPAddress: ip,
						Netmask:   netmask,
						GatewayIP: gateway,
						BindHome:  bindHome,
						Account:   account,
						MirrorURL: mirror,
						Autostart: autostart,
					})
					if err != nil {
						return err
					}
				}

				if len(packages) > 0 {
					if err := installBaseline(cmd, name, packages); err != nil {
						return err
					}
				}

				fmt.Printf("Container %q created.\n", name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "runtime template or image")
	cmd.Flags().StringVar(&ip, "ip", "", "static IP address for the container")
	cmd.Flags().StringVar(&gateway, "gateway", "", "default gateway")
	cmd.Flags().StringVar(&netmask, "netmask", "", "network mask")
	cmd.Flags().StringVar(&bindHome, "bind-home", "", "host home directory to bind mount")
	cmd.Flags().StringVar(&account, "account", "", "host account to mirror into the guest")
	cmd.Flags().StringVar(&mirror, "mirror", "", "package mirror URL override")
	cmd.Flags().StringSliceVar(&packages, "packages", nil, "baseline packages to install")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start this container during host autostart")

	return cmd
}

// installBaseline starts the new container just long enough to
// install its baseline packages, then returns it to stopped.
func installBaseline(cmd *cobra.Command, name string, packages []string) error {
	ctx := cmd.Context()
	if _, err := app.ctl.Start(ctx, name); err != nil {
		return fmt.Errorf("start for package install: %w", err)
	}
	installErr := app.prov.InstallPackages(ctx, name, packages)
	if _, err := app.ctl.Stop(ctx, name); err != nil {
		app.logger.Warn("failed to stop container after package install", "container", name, "error", err)
	}
	return installErr
}

func destroyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy <name>",
		Short: "Stop and permanently remove a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes {
				fmt.Printf("Destroy container %q? This cannot be undone. [y/N]: ", name)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "y" {
					fmt.Println("Cancelled.")
					return nil
				}
			}
			return app.audited(cmd.Context(), "destroy", name, func() error {
				if err := app.ctl.Destroy(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Printf("Container %q destroyed.\n", name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a stopped container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return app.audited(cmd.Context(), "start", name, func() error {
				status, err := app.ctl.Start(cmd.Context(), name)
				if err != nil {
					return err
				}
				if status.NetworkConfirmed {
					fmt.Printf("Container %q started.\n", name)
				} else {
					fmt.Printf("Container %q started, but could not confirm its network came up.\n", name)
				}
				return nil
			})
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Gracefully stop a running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return app.audited(cmd.Context(), "stop", name, func() error {
				status, err := app.ctl.Stop(cmd.Context(), name)
				if err != nil {
					return err
				}
				if status.Escalated {
					fmt.Printf("Container %q stopped (forced after grace period).\n", name)
				} else {
					fmt.Printf("Container %q stopped.\n", name)
				}
				return nil
			})
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a container (starts it if stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return app.audited(cmd.Context(), "restart", name, func() error {
				status, err := app.ctl.Restart(cmd.Context(), name)
				if err != nil {
					return err
				}
				if status.StopSkipped {
					fmt.Printf("Container %q was not running; started.\n", name)
				} else {
					fmt.Printf("Container %q restarted.\n", name)
				}
				return nil
			})
		},
	}
}

func enterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enter <name>",
		Short: "Open a shell inside a running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.shell.Interactive(cmd.Context(), args[0], nil)
		},
	}
}

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <name> -- <command> [args...]",
		Short: "Run a command inside a running container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.shell.Interactive(cmd.Context(), args[0], args[1:])
		},
	}
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <name>",
		Short: "Attach to a container console (exclusive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.console.Attach(cmd.Context(), args[0])
		},
	}
}
