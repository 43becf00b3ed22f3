package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kbchat/internal/api"
)

var chatSessionID int64

func init() {
	chatCmd.Flags().Int64VarP(&chatSessionID, "session", "s", 0, "continue an existing session id")
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the assistant a question",
	Long: `Send one message, or start an interactive conversation when no
message is given. Without --session the server opens a new thread on the
first message.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}

		if chatSessionID != 0 {
			if err := kb.chat.Select(cmd.Context(), chatSessionID); err != nil {
				return err
			}
			printTranscript(kb.chat.Messages())
		}

		if len(args) > 0 {
			return sendAndPrint(cmd, strings.Join(args, " "))
		}
		return runInteractiveChat(cmd)
	},
}

func runInteractiveChat(cmd *cobra.Command) error {
	fmt.Println("Interactive chat. Type 'exit' to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := sendAndPrint(cmd, line); err != nil {
			// The transcript already carries the error entry; keep going.
			color.Red("send failed: %v", err)
		}
	}
}

func sendAndPrint(cmd *cobra.Command, message string) error {
	before := len(kb.chat.Messages())
	err := kb.chat.Send(cmd.Context(), message)
	messages := kb.chat.Messages()
	// Everything appended after the user's turn is new output, including a
	// failure stand-in.
	if before+1 < len(messages) {
		printTranscript(messages[before+1:])
	}
	return err
}

func printTranscript(messages []api.Message) {
	userTint := color.New(color.FgCyan)
	assistantTint := color.New(color.FgGreen)
	faint := color.New(color.Faint)

	for _, msg := range messages {
		switch msg.Role {
		case api.RoleUser:
			userTint.Printf("you: %s\n", msg.Content)
		case api.RoleAssistant:
			assistantTint.Printf("assistant: %s\n", msg.Content)
			for _, cit := range msg.Citations {
				ref := cit.Metadata.Source
				if cit.Metadata.Page != nil {
					ref = fmt.Sprintf("%s p.%d", ref, *cit.Metadata.Page)
				}
				faint.Printf("  [%s] %s\n", ref, truncate(cit.Content, 100))
			}
			if len(msg.Suggestions) > 0 {
				faint.Printf("  suggestions: %s\n", strings.Join(msg.Suggestions, " | "))
			}
		default:
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
		}
	}
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		if err := kb.chat.FetchSessions(cmd.Context()); err != nil {
			return err
		}
		sessions := kb.chat.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%6d  %-40s  %3d messages  %s\n",
				s.ID, truncate(s.Title, 40), s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an empty session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		s, err := kb.chat.CreateNew(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Created session %d\n", s.ID)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		if err := kb.chat.Select(cmd.Context(), id); err != nil {
			return err
		}
		printTranscript(kb.chat.Messages())
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		if err := kb.chat.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted session %d\n", id)
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Clear a session's messages, keeping the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid session id %q", args[0])
		}
		if err := kb.chat.Select(cmd.Context(), id); err != nil {
			return err
		}
		if err := kb.chat.ClearMessages(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Cleared session %d\n", id)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsClearCmd)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
