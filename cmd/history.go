package cmd

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/emrgen/panelcraft/internal/config"
	"github.com/emrgen/panelcraft/internal/model"
	"github.com/emrgen/panelcraft/internal/store"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "recent project commands",
}

func init() {
	historyCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	historyCmd.AddCommand(listHistoryCmd())
	historyCmd.AddCommand(deleteHistoryCmd())
}

func openProjects() (*store.Projects, error) {
	kv, err := openKV(config.LoadConfig())
	if err != nil {
		return nil, err
	}

	return store.NewProjects(kv), nil
}

func renderHistory(history []*model.Script) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Title", "Author", "Pages", "Room", "Modified"})
	for _, s := range history {
		modified := ""
		if s.LastModified > 0 {
			modified = time.UnixMilli(s.LastModified).Format(time.RFC3339)
		}
		table.Append([]string{s.ID, s.Title, s.Author, strconv.Itoa(len(s.Pages)), s.RoomID, modified})
	}
	table.Render()
}

func listHistoryCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "list",
		Short:   "list recent projects",
		Example: "panelcraft history list",
		Run: func(cmd *cobra.Command, args []string) {
			projects, err := openProjects()
			if err != nil {
				logrus.Error(err)
				return
			}

			history, err := projects.History(context.Background())
			if err != nil {
				logrus.Error(err)
				return
			}

			renderHistory(history)
		},
	}

	return command
}

func deleteHistoryCmd() *cobra.Command {
	var projectID string

	var required = []string{"id"}

	command := &cobra.Command{
		Use:     "delete",
		Short:   "remove a project from the recent projects",
		Example: "panelcraft history delete -i <project-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			projects, err := openProjects()
			if err != nil {
				logrus.Error(err)
				return
			}

			history, err := projects.RemoveFromHistory(context.Background(), projectID)
			if err != nil {
				logrus.Error(err)
				return
			}

			color.Magenta("removed project: %s\n", projectID)
			renderHistory(history)
		},
	}

	command.Flags().StringVarP(&projectID, "id", "i", "", "project id (required)")
	command.Flags().SortFlags = false

	return command
}
