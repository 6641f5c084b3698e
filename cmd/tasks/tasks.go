// Package tasks implements task management subcommands: listing the
// queue in a table and submitting work from the shell.
package tasks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/bookcrawl/internal/config"
	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
)

const listLimit = 100

// Command returns the tasks command with its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage crawl tasks",
	}
	cmd.AddCommand(listCommand())
	cmd.AddCommand(addCommand())
	return cmd
}

func connect() (*database.TaskRepository, func(), error) {
	cfg := config.LoadConfig()

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}
	return database.NewTaskRepository(db), func() { _ = db.Close() }, nil
}

func listCommand() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			tasks, err := repo.List(cmd.Context(), status, listLimit, 0)
			if err != nil {
				return err
			}

			renderTaskTable(tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, running, completed, failed, skipped, cancelled)")
	return cmd
}

func renderTaskTable(tasks []*domain.Task) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Type", "Site", "Priority", "Status", "Created", "Error"})
	for _, task := range tasks {
		t.AppendRow(table.Row{
			task.ID,
			task.Type,
			task.TargetSite,
			task.Priority,
			task.Status,
			task.CreatedAt.Format(time.RFC3339),
			task.ErrorMessage,
		})
	}

	t.Render()
}

func addCommand() *cobra.Command {
	var (
		taskType string
		site     string
		isbn     string
		shopID   string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a crawl task",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := domain.JSONBMap{}
			if isbn != "" {
				params["isbn"] = isbn
			}
			if shopID != "" {
				params["shop_id"] = shopID
			}

			task := &domain.Task{
				ID:         uuid.NewString(),
				Type:       domain.TaskType(taskType),
				TargetSite: site,
				Params:     params,
				Priority:   priority,
				Status:     domain.TaskStatusPending,
			}

			repo, cleanup, err := connect()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := repo.Create(ctx, task); err != nil {
				return err
			}

			fmt.Printf("task %s created\n", task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "type", string(domain.TaskTypeBookSales), "task type")
	cmd.Flags().StringVar(&site, "site", "kongfuzi", "target site")
	cmd.Flags().StringVar(&isbn, "isbn", "", "book ISBN")
	cmd.Flags().StringVar(&shopID, "shop-id", "", "shop identifier")
	cmd.Flags().IntVar(&priority, "priority", 0, "dispatch priority (higher first)")
	return cmd
}
