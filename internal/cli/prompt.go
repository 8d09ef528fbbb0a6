package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prompt <conversation-id> [new prompt...]",
		Short: "Show or set a conversation's system prompt",
		Long:  "With only a conversation ID, prints the current prompt override. With additional arguments, sets them as the new prompt. Use --clear to remove the override.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPrompt,
	}

	cmd.Flags().Bool("clear", false, "Remove the prompt override")

	RootCmd.AddCommand(cmd)
}

func runPrompt(cmd *cobra.Command, args []string) {
	clear, _ := cmd.Flags().GetBool("clear")
	convID := args[0]

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if clear {
		if err := s.SetSystemPrompt(cmd.Context(), convID, ""); err != nil {
			exitErr("clear prompt", err)
		}
		fmt.Println("prompt override cleared")
		return
	}

	if len(args) > 1 {
		prompt := strings.Join(args[1:], " ")
		if err := s.SetSystemPrompt(cmd.Context(), convID, prompt); err != nil {
			exitErr("set prompt", err)
		}
		fmt.Println("prompt updated")
		return
	}

	conv, err := s.GetConversation(cmd.Context(), convID)
	if err != nil {
		exitErr("load conversation", err)
	}
	if conv.SystemPrompt == nil {
		fmt.Println("no override (relay default applies)")
		return
	}
	fmt.Println(*conv.SystemPrompt)
}
