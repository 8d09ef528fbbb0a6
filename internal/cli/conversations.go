package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations by recent activity",
		Run:   runConversations,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runConversations(cmd *cobra.Command, _ []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	convs, err := s.ListConversations(cmd.Context(), limit)
	if err != nil {
		exitErr("list conversations", err)
	}

	if len(convs) == 0 {
		fmt.Println("no conversations")
		return
	}

	gray := color.New(color.FgHiBlack)
	for _, c := range convs {
		fmt.Printf("%s", c.ID)
		if c.SystemPrompt != nil {
			color.New(color.FgYellow).Printf("  [custom prompt]")
		}
		if c.ResetSeq > 0 {
			gray.Printf("  reset@%d", c.ResetSeq)
		}
		gray.Printf("  updated %s", c.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
}
