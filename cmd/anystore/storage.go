package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/config"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show metadata of a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		meta, err := op.Stat(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter().FormatStat(os.Stdout, anystore.Entry{Path: args[0], Metadata: meta})
	}),
}

var (
	listRecursive bool
	listLimit     int
	listToken     string
)

var listCmd = &cobra.Command{
	Use:     "ls [dir/]",
	Aliases: []string{"list"},
	Short:   "List a directory",
	Long: `List the entries of a directory. Directory paths end in "/"; the
root is listed when no path is given.

With --limit only one page is printed, followed by the token that
resumes the listing:

  anystore ls --limit 100 photos/
  anystore ls --limit 100 --token <token> photos/`,
	Args: cobra.MaximumNArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		token, err := anystore.ParseToken(listToken)
		if err != nil {
			return err
		}
		opts := anystore.ListOptions{Recursive: listRecursive, Limit: listLimit, Token: token}

		if listLimit <= 0 {
			entries, err := op.ListAll(ctx, dir, opts)
			if err != nil {
				return err
			}
			return formatter().FormatList(os.Stdout, entries, "")
		}

		l, err := op.List(ctx, dir, opts)
		if err != nil {
			return err
		}
		defer func() { _ = l.Close() }()

		entries, err := l.NextPage(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return formatter().FormatList(os.Stdout, entries, l.Token().String())
	}),
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Write a file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		r, err := op.Reader(ctx, args[0], anystore.ReadOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		if _, err := io.Copy(os.Stdout, r); err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		return nil
	}),
}

var (
	putContentType string
	putIfNotExists bool
)

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <path>",
	Short: "Upload a local file, or stdin with -",
	Args:  cobra.ExactArgs(2),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		src, remote := args[0], args[1]

		var in io.Reader = os.Stdin
		var sizeHint int64
		if src != "-" {
			f, err := os.Open(src)
			if err != nil {
				return fmt.Errorf("open %s: %w", src, err)
			}
			defer func() { _ = f.Close() }()
			if info, err := f.Stat(); err == nil {
				sizeHint = info.Size()
			}
			in = f
		}

		opts := anystore.WriteOptions{ContentType: putContentType, IfNotExists: putIfNotExists, SizeHint: sizeHint}
		meta, err := op.WriteFrom(ctx, remote, in, opts)
		if err != nil {
			return err
		}
		return formatter().FormatStat(os.Stdout, anystore.Entry{Path: remote, Metadata: meta})
	}),
}

var (
	removeRecursive bool
	removeYes       bool
)

var removeCmd = &cobra.Command{
	Use:     "rm <path> [path...]",
	Aliases: []string{"remove"},
	Short:   "Delete files or directories",
	Long: `Delete files or empty directories. With -r a directory is removed
together with everything below it; you are asked to confirm unless
--yes is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		for _, p := range args {
			if removeRecursive && anystore.IsDir(p) {
				if !removeYes && !confirm(fmt.Sprintf("Remove %s and everything below it", p)) {
					slog.Info("skipped", "path", p)
					continue
				}
				if err := op.RemoveAll(ctx, p); err != nil {
					return err
				}
			} else if err := op.Delete(ctx, p); err != nil {
				return err
			}
			if !quiet {
				slog.Info("removed", "path", p)
			}
		}
		return nil
	}),
}

var copyCmd = &cobra.Command{
	Use:   "cp <from> <to>",
	Short: "Copy a file",
	Args:  cobra.ExactArgs(2),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		return op.Copy(ctx, args[0], args[1])
	}),
}

var renameCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Rename a file",
	Args:  cobra.ExactArgs(2),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		return op.Rename(ctx, args[0], args[1])
	}),
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <dir/>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		return op.CreateDir(ctx, args[0])
	}),
}

var (
	presignMethod  string
	presignExpires time.Duration
)

var presignCmd = &cobra.Command{
	Use:   "presign <path>",
	Short: "Print a presigned request for a path",
	Args:  cobra.ExactArgs(1),
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, args []string) error {
		var (
			req anystore.PresignedRequest
			err error
		)
		switch presignMethod {
		case "read", "get":
			req, err = op.PresignRead(ctx, args[0], presignExpires)
		case "stat", "head":
			req, err = op.PresignStat(ctx, args[0], presignExpires)
		case "write", "put":
			req, err = op.PresignWrite(ctx, args[0], presignExpires)
		default:
			return fmt.Errorf("unknown presign operation %q (read, stat, write)", presignMethod)
		}
		if err != nil {
			return err
		}
		return formatter().FormatPresign(os.Stdout, req)
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the storage is reachable",
	Args:  cobra.NoArgs,
	RunE: withOperator(func(ctx context.Context, op *anystore.Operator, _ []string) error {
		if err := op.Check(ctx); err != nil {
			return err
		}
		return formatter().FormatInfo(os.Stdout, op.Info())
	}),
}

func init() {
	listCmd.Flags().BoolVarP(&listRecursive, "recursive", "r", false, "list everything below the directory")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "print one page of at most this many entries")
	listCmd.Flags().StringVar(&listToken, "token", "", "resume a listing from a token")

	putCmd.Flags().StringVarP(&putContentType, "content-type", "t", "", "content type of the object")
	putCmd.Flags().BoolVar(&putIfNotExists, "if-not-exists", false, "fail when the path already exists")

	removeCmd.Flags().BoolVarP(&removeRecursive, "recursive", "r", false, "remove directories and their contents")
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "do not ask for confirmation")

	presignCmd.Flags().StringVarP(&presignMethod, "op", "o", "read", "operation to presign: read, stat, write")
	presignCmd.Flags().DurationVarP(&presignExpires, "expires", "e", 15*time.Minute, "how long the request stays valid")

	rootCmd.AddCommand(statCmd, listCmd, catCmd, putCmd, removeCmd, copyCmd, renameCmd, mkdirCmd, presignCmd, checkCmd)
}

// withOperator opens the configured storage for the duration of fn.
func withOperator(fn func(ctx context.Context, op *anystore.Operator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		op, closeStorage, err := config.Open(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStorage(); err != nil {
				slog.Warn("close storage", "err", err)
			}
		}()

		if err := fn(ctx, op, args); err != nil {
			if jsonOutput {
				_ = formatter().FormatError(os.Stderr, err)
			}
			return err
		}
		return nil
	}
}

func confirm(label string) bool {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}
