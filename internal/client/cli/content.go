package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// printJSON pretty-prints a raw response body.
func printJSON(body json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(buf.String())
}

func (a *App) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <json>",
		Short: "Create an item (queued if offline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.gateway.Do(cmd.Context(), http.MethodPost, "/api/"+args[0], json.RawMessage(args[1]))
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
}

func (a *App) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <collection> <id> <json>",
		Short: "Update an item (queued if offline)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.gateway.Do(cmd.Context(), http.MethodPut, "/api/"+args[0]+"/"+args[1], json.RawMessage(args[2]))
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
}

func (a *App) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List items (local data when offline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.gateway.Do(cmd.Context(), http.MethodGet, "/api/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
}

func (a *App) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one item (local data when offline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.gateway.Do(cmd.Context(), http.MethodGet, "/api/"+args[0]+"/"+args[1], nil)
			if err != nil {
				return err
			}
			printJSON(body)
			return nil
		},
	}
}

func (a *App) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id>",
		Short: "Delete an item (queued if offline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.gateway.Do(cmd.Context(), http.MethodDelete, "/api/"+args[0]+"/"+args[1], nil); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}
