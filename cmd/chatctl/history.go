package main

import (
	"github.com/lalith-99/storefront/internal/chat"
	"github.com/lalith-99/storefront/internal/table"
	"github.com/spf13/cobra"
)

func historyColumns() []table.Column[chat.Message] {
	return []table.Column[chat.Message]{
		{Field: "date", Value: func(m chat.Message) any { return m.Timestamp }},
		{Field: "sender", Value: func(m chat.Message) any { return string(m.Sender) }},
		{Field: "message", Value: func(m chat.Message) any { return m.Body }},
		{Field: "read", Value: func(m chat.Message) any { return m.ReadState.String() }},
	}
}

func newHistoryCmd() *cobra.Command {
	var view viewFlags

	cmd := &cobra.Command{
		Use:   "history <peer>",
		Short: "Show the conversation with a peer as a table",
		Example: `  chatctl history bob@example.com --search invoice
  chatctl history bob@example.com --sort date --desc --page-size 25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			msgs, err := a.client.FetchHistory(cmd.Context(), chat.Identity(args[0]))
			if err != nil {
				return err
			}

			t := table.New(msgs, historyColumns(), a.cfg.PageSizes)
			if err := applyView(t, view); err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), t)
		},
	}

	view.bind(cmd)
	return cmd
}
