package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/EHfive/sopsfs"
)

func init() {
	rootCmd.AddCommand(lsCmd, catCmd, statCmd, writeCmd, mkdirCmd, rmCmd, mvCmd, watchCmd)

	writeCmd.Flags().StringP("data", "d", "", "value to write (default: read stdin)")
	writeCmd.Flags().Bool("no-create", false, "fail if the path does not exist yet")
	writeCmd.Flags().Bool("no-overwrite", false, "fail if the path already exists")
	mvCmd.Flags().Bool("overwrite", false, "replace the target if it exists")
}

// docName composes the registry namespace name for a document and an
// optional sub-path argument.
func docName(args []string) string {
	if len(args) > 1 {
		return sopsfs.JoinName(args[0], args[1])
	}

	return sopsfs.JoinName(args[0])
}

var lsCmd = &cobra.Command{
	Use:   "ls <document> [sub-path]",
	Short: "List the entries of a document directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		entries, err := reg.ReadDir(docName(args))
		if err != nil {
			return err
		}

		for _, de := range entries {
			fi, err := de.Info()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %8d %s\n", fi.Mode(), fi.Size(), de.Name())
		}

		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <document> <sub-path>",
	Short: "Print a decrypted value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		b, err := reg.ReadFile(docName(args))
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(b)

		return err
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <document> [sub-path]",
	Short: "Print information about a document entry",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		fi, err := reg.Stat(docName(args))
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s:\n    Size:     %d\n    Modified: %s\n    Mode:     %s\n",
			fi.Name(), fi.Size(), fi.ModTime().Format("2006-01-02T15:04:05Z07:00"), fi.Mode())

		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <document> <sub-path>",
	Short: "Write a value, re-encrypting the document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cmd.Flags().GetString("data")
		if err != nil {
			return err
		}

		payload := []byte(data)
		if data == "" {
			payload, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
		}

		noCreate, _ := cmd.Flags().GetBool("no-create")
		noOverwrite, _ := cmd.Flags().GetBool("no-overwrite")

		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		return reg.WriteFile(docName(args), payload, sopsfs.WriteOptions{
			Create:    !noCreate,
			Overwrite: !noOverwrite,
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <document> <sub-path>",
	Short: "Create an empty object inside a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		return reg.Mkdir(docName(args))
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <document> <sub-path>",
	Short: "Delete an entry from a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		return reg.Remove(docName(args))
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <document> <old-path> <new-path>",
	Short: "Rename an entry within a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		return reg.Rename(
			sopsfs.JoinName(args[0], args[1]),
			sopsfs.JoinName(args[0], args[2]),
			sopsfs.RenameOptions{Overwrite: overwrite},
		)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <document>",
	Short: "Stream change-event batches until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		// open the engine and fail fast before waiting for events
		if _, err := reg.Stat(docName(args)); err != nil {
			return err
		}

		cancel := reg.Subscribe(func(events []sopsfs.Event) {
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", ev.Kind, ev.Path)
			}
		})
		defer cancel()

		logrus.WithField("document", args[0]).Info("watching; interrupt to stop")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig

		return nil
	},
}
