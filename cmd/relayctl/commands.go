package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskrelay/pkg/journal"
	"taskrelay/pkg/mirror"
)

func syncCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <task-id>",
		Short: "Run one repair pass for a task and print what it did",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Config.Telegram.Token == "" || a.Config.Chat.ID == 0 {
				return errors.New("sync needs telegram.token and chat.id")
			}

			t, err := a.Tasks.Get(ctx, args[0])
			if err != nil {
				return err
			}
			report, err := a.Relay.SyncNow(ctx, mirror.Snapshot{Task: t, Kind: mirror.KindResync})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
}

func printReport(w io.Writer, r *mirror.Report) {
	fmt.Fprintf(w, "task:       %s\n", r.TaskID)
	fmt.Fprintf(w, "result:     %s\n", r.Result())
	fmt.Fprintf(w, "primary:    %d (chat %d)\n", r.Messaging.MessageID, r.Messaging.ChatID)
	fmt.Fprintf(w, "preview:    %v\n", r.Messaging.PreviewMessageIDs)
	fmt.Fprintf(w, "attachments:%v\n", r.Messaging.AttachmentMessageIDs)
	fmt.Fprintf(w, "comment:    %d\n", r.Messaging.CommentMessageID)
	if r.Recreated {
		fmt.Fprintln(w, "recreated:  yes")
	}
	for _, s := range r.FullResends {
		fmt.Fprintf(w, "resent:     %s\n", s)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "failed:     %s\n", f)
	}
	if r.BookkeepingErr != nil {
		fmt.Fprintf(w, "bookkeeping: %v\n", r.BookkeepingErr)
	}
}

func taskCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print a task with its messaging bookkeeping as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Tasks.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	})
	return cmd
}

func journalCmd(open opener) *cobra.Command {
	var taskID string
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent sync passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []journal.Entry
			if taskID != "" {
				entries, err = a.Journal.ByTask(ctx, taskID, limit)
			} else {
				entries, err = a.Journal.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printJournal(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "only passes for this task")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	return cmd
}

func printJournal(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTASK\tKIND\tRESULT\tDETAIL")
	for _, e := range entries {
		detail, _ := json.Marshal(e.Detail)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.TaskID, e.Kind, e.Result, detail)
	}
	return tw.Flush()
}

func userCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}

	var name, username string
	add := &cobra.Command{
		Use:   "add <telegram-id>",
		Short: "Register a user by chat account id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tgID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("telegram id: %w", err)
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			u, err := a.Actors.Register(cmd.Context(), name, username, tgID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&username, "username", "", "chat handle without @")
	add.MarkFlagRequired("name")

	markBot := &cobra.Command{
		Use:   "mark-bot <user-id>",
		Short: "Flag a user as an automation account so it gets no notices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Actors.MarkAsBot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked as bot\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			users, err := a.Actors.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tUSERNAME\tTELEGRAM\tBOT")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", u.ID, u.Name, u.Username, u.TelegramID, u.IsBot)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, markBot, list)
	return cmd
}
