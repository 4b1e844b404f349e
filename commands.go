package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remotefs/config"
	"remotefs/core"
	"remotefs/metrics"
	"remotefs/protocols"
)

var (
	dirStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	linkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	unknownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	eventStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func remotesCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List configured remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, r := range getApp().registry.Remotes() {
				root := core.BuildPath(r.Scheme, r.Name, "")
				fmt.Fprintf(out, "%-16s %-40s %s at %s\n", r.Name, root, r.Addr(), r.RootPath)
			}
			return nil
		},
	}
}

// fsCommands builds the file commands. They are shared by the command line
// and the shell.
func fsCommands(getApp func() *app) []*cobra.Command {
	var (
		recursive    bool
		create       bool
		putOverwrite bool
		mvOverwrite  bool
		cpOverwrite  bool
	)

	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file type, size and modification time",
		Args:  cobra.ExactArgs(1),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			st, err := f.Stat(ctx, vps[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "type: %s\nsize: %d\nmodified: %s\nmode: %s\n",
				st.Type, st.Size, st.ModTime.Format(time.RFC3339), st.Mode)
			return nil
		}),
	}

	lsCmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List directory contents",
		Args:  cobra.ExactArgs(1),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			entries, err := f.ReadDirectory(ctx, vps[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(out, renderEntry(e))
			}
			return nil
		}),
	}

	catCmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print file content",
		Args:  cobra.ExactArgs(1),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			data, err := f.ReadFile(ctx, vps[0])
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		}),
	}

	putCmd := &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Upload a local file, or stdin with -",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			vp, err := core.ParseVirtualPath(args[1])
			if err != nil {
				return err
			}
			a := getApp()
			f, err := a.mounts.For(vp)
			if err != nil {
				return err
			}
			return f.WriteFile(cmd.Context(), vp, data, core.WriteOptions{Create: create, Overwrite: putOverwrite})
		},
	}
	putCmd.Flags().BoolVar(&create, "create", true, "create the file if missing")
	putCmd.Flags().BoolVar(&putOverwrite, "overwrite", true, "replace an existing file")

	mkdirCmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			return f.CreateDirectory(ctx, vps[0])
		}),
	}

	rmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			return f.Delete(ctx, vps[0], core.DeleteOptions{Recursive: recursive})
		}),
	}
	rmCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete directories and their contents")

	mvCmd := &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "Rename a file or directory on one remote",
		Args:  cobra.ExactArgs(2),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			f, err := a.mounts.For(vps[0])
			if err != nil {
				return err
			}
			return f.Rename(ctx, vps[0], vps[1], core.RenameOptions{Overwrite: mvOverwrite})
		}),
	}
	mvCmd.Flags().BoolVarP(&mvOverwrite, "overwrite", "f", false, "replace an existing target")

	cpCmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy files or directory trees, across remotes and protocols",
		Args:  cobra.ExactArgs(2),
		RunE: withPaths(getApp, func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error {
			return a.transfer.Copy(ctx, vps[0], vps[1], core.CopyOptions{Overwrite: cpOverwrite})
		}),
	}
	cpCmd.Flags().BoolVarP(&cpOverwrite, "overwrite", "f", false, "replace existing files")

	return []*cobra.Command{statCmd, lsCmd, catCmd, putCmd, mkdirCmd, rmCmd, mvCmd, cpCmd}
}

func shellCmd(getApp func() *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively over shared connections",
		Long:  "Reads one command per line from stdin. Connections are reused between commands and change notifications are printed as they are flushed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Metrics server failed", zap.Error(err))
					}
				}()
				defer srv.Close()
			}

			stop := printEvents(a, out)
			defer stop()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprint(out, "> ")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
				case "exit", "quit":
					return nil
				default:
					if err := runLine(ctx, getApp, line, cmd.InOrStdin(), out); err != nil {
						fmt.Fprintf(out, "error: %v\n", err)
					}
				}
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprint(out, "> ")
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// runLine executes one shell line with a fresh command tree so that flags do
// not leak between lines.
func runLine(ctx context.Context, getApp func() *app, line string, in io.Reader, out io.Writer) error {
	root := &cobra.Command{Use: "remotefs", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(remotesCmd(getApp))
	root.AddCommand(fsCommands(getApp)...)
	root.SetArgs(strings.Fields(line))
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

// printEvents prints change batches from every mount until the returned func
// is called.
func printEvents(a *app, out io.Writer) func() {
	var cancels []func()
	for _, scheme := range []string{config.SchemeSFTP, config.SchemeFTP} {
		f, err := a.mounts.For(core.VirtualPath{Scheme: scheme})
		if err != nil {
			continue
		}
		ch, cancel := f.Subscribe()
		cancels = append(cancels, cancel)
		go func() {
			for batch := range ch {
				for _, ev := range batch {
					fmt.Fprintln(out, eventStyle.Render(fmt.Sprintf("[%s] %s", ev.Kind, ev.Path)))
				}
			}
		}()
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func withPaths(getApp func() *app, fn func(ctx context.Context, a *app, out io.Writer, vps []core.VirtualPath) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		vps := make([]core.VirtualPath, len(args))
		for i, arg := range args {
			vp, err := core.ParseVirtualPath(arg)
			if err != nil {
				return err
			}
			vps[i] = vp
		}
		return fn(cmd.Context(), getApp(), cmd.OutOrStdout(), vps)
	}
}

func renderEntry(e protocols.DirEntry) string {
	switch e.Type {
	case protocols.FileTypeDirectory:
		return "d " + dirStyle.Render(e.Name+"/")
	case protocols.FileTypeSymlink:
		return "l " + linkStyle.Render(e.Name)
	case protocols.FileTypeUnknown:
		return "? " + unknownStyle.Render(e.Name)
	default:
		return "- " + e.Name
	}
}
