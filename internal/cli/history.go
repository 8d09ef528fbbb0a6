package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voxrelay/voxrelay/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Dump a conversation's message history",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}

	cmd.Flags().IntP("limit", "l", 50, "Max messages (newest kept)")
	cmd.Flags().Bool("all", false, "Include messages before the last /reset")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	convID := args[0]
	var msgs []*store.Message
	if all {
		msgs, err = s.AllMessages(cmd.Context(), convID, limit)
	} else {
		msgs, err = s.MessagesBefore(cmd.Context(), convID, -1, limit)
	}
	if err != nil {
		exitErr("load history", err)
	}

	if len(msgs) == 0 {
		fmt.Println("no messages")
		return
	}

	gray := color.New(color.FgHiBlack)
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			color.New(color.FgGreen).Printf("%4d user      ", m.Seq)
		case store.RoleAssistant:
			color.New(color.FgCyan).Printf("%4d assistant ", m.Seq)
		default:
			gray.Printf("%4d %-9s ", m.Seq, m.Role)
		}
		fmt.Println(m.Content)
	}
}
