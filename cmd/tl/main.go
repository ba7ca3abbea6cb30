package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks team tasks with versioned writes and a full audit trail.
- Workspace: the .taskline directory holding the database.
- Tasks: work items in a parent/child tree; every write carries the version
  the writer last read, and stale writes are rejected instead of merged.
- Time entries: open one as a running timer, close it to roll the hours into
  the task's actual_hours.
- Audit log: every committed mutation leaves a record; view with 'tl audit'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func workspaceCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workspace", Short: "Manage workspaces"}
	ws.AddCommand(workspaceCreateCmd())
	ws.AddCommand(workspaceListCmd())
	return ws
}

func workspaceCreateCmd() *cobra.Command {
	var title, description, plan string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkspace(ctx, title, description, plan, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "workspace title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&plan, "plan", "free", "plan type (free, basic, pro, enterprise)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workspaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkspaces(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Plan", "Created"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Title, w.PlanType, w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	team.AddCommand(teamCreateCmd())
	team.AddCommand(teamListCmd())
	team.AddCommand(teamAddMemberCmd())
	team.AddCommand(teamMembersCmd())
	return team
}

func teamCreateCmd() *cobra.Command {
	var workspaceID, name, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTeam(ctx, workspaceID, name, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace id")
	cmd.Flags().StringVar(&name, "name", "", "team name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("workspace-id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamListCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams in a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTeams(ctx, workspaceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.OwnerID, t.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "workspace id")
	_ = cmd.MarkFlagRequired("workspace-id")
	return cmd
}

func teamAddMemberCmd() *cobra.Command {
	var teamID, userID, role string
	cmd := &cobra.Command{
		Use:   "add-member",
		Short: "Add a team member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddTeamMember(ctx, teamID, userID, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "team id")
	cmd.Flags().StringVar(&userID, "user-id", "", "user id")
	cmd.Flags().StringVar(&role, "role", "member", "role (admin, member, guest)")
	_ = cmd.MarkFlagRequired("team-id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func teamMembersCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTeamMembers(ctx, teamID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "team id")
	_ = cmd.MarkFlagRequired("team-id")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks form a tree per team. Updates and deletes require --expected-version, the version you last read; a stale version is rejected with a conflict.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTreeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var estimate float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TeamID, "team-id", "", "team id")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status (backlog, todo, in_progress, review, done)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.DueAt, "due", "", "due date (RFC 3339)")
	_ = cmd.MarkFlagRequired("team-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var teamID, status, parent string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, repo.TaskFilters{TeamID: teamID, Status: status, Parent: parent, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Ver", "Hours"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.Version, fmt.Sprintf("%.2f", t.ActualHours)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "team id filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var expectedVersion int64
	var title, description, status, priority, due string
	var estimate float64
	var clearEstimate bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task (versioned)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:              args[0],
				ExpectedVersion: expectedVersion,
				ActorID:         viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			opts.ClearEstimate = clearEstimate
			if cmd.Flags().Changed("due") {
				opts.DueAt = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version last read")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")
	cmd.Flags().BoolVar(&clearEstimate, "clear-estimate", false, "drop the estimate")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC 3339, empty clears)")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var expectedVersion int64
	var parent string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task under a new parent (empty --parent makes it a root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReparentTask(ctx, args[0], parent, expectedVersion, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version last read")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent task id")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var expectedVersion int64
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], expectedVersion, cascade, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version last read")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "delete the whole subtree")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}

func taskTreeCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the task tree for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, repo.TaskFilters{TeamID: teamID})
				if err != nil {
					return err
				}
				children := map[string][]domain.Task{}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID != nil {
						children[*t.ParentID] = append(children[*t.ParentID], t)
					} else {
						roots = append(roots, t)
					}
				}
				for i, t := range roots {
					printTaskTree(t, children, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team-id", "", "team id")
	_ = cmd.MarkFlagRequired("team-id")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userShowCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var id, email, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user with a real email and display name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:          id,
					Email:       email,
					DisplayName: name,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func assignCmd() *cobra.Command {
	var taskID, userID, role string
	var remove, transfer bool
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign or unassign a user on a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if remove {
					return e.Unassign(ctx, taskID, userID, role, actorID)
				}
				if transfer {
					a, err := e.TransferOwner(ctx, taskID, userID, actorID)
					if err != nil {
						return err
					}
					return printJSONOrTable(a)
				}
				a, err := e.Assign(ctx, taskID, userID, role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	cmd.Flags().StringVar(&userID, "user-id", "", "user id")
	cmd.Flags().StringVar(&role, "role", "assignee", "role (owner, assignee, reviewer)")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the assignment")
	cmd.Flags().BoolVar(&transfer, "transfer", false, "make user-id the owner, replacing the current one")
	_ = cmd.MarkFlagRequired("task-id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func timeCmd() *cobra.Command {
	tc := &cobra.Command{Use: "time", Short: "Track time against tasks"}
	tc.AddCommand(timeLogCmd())
	tc.AddCommand(timeCloseCmd())
	tc.AddCommand(timeListCmd())
	return tc
}

func timeLogCmd() *cobra.Command {
	var taskID, userID, start, end, description string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log a time entry (omit --end to start a running timer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" {
				start = time.Now().UTC().Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.LogTime(ctx, taskID, userID, start, end, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	cmd.Flags().StringVar(&userID, "user-id", "", "user id (defaults to actor)")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC 3339, defaults to now)")
	cmd.Flags().StringVar(&end, "end", "", "end time (RFC 3339)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

func timeCloseCmd() *cobra.Command {
	var end string
	cmd := &cobra.Command{
		Use:   "close <entry-id>",
		Short: "Close a running time entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if end == "" {
				end = time.Now().UTC().Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.CloseTimeEntry(ctx, args[0], end, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "end time (RFC 3339, defaults to now)")
	return cmd
}

func timeListCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List time entries for a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTimeEntries(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

func commentCmd() *cobra.Command {
	cc := &cobra.Command{Use: "comment", Short: "Comment on tasks"}
	cc.AddCommand(commentAddCmd())
	cc.AddCommand(commentListCmd())
	return cc
}

func commentAddCmd() *cobra.Command {
	var taskID, parentID, content string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a comment (mention users with @id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, taskID, parentID, content, nil, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent comment id (reply)")
	cmd.Flags().StringVar(&content, "content", "", "comment body")
	_ = cmd.MarkFlagRequired("task-id")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func commentListCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List comments on a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListComments(ctx, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

func auditCmd() *cobra.Command {
	var entityType, entityID, actorID string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rows, err := r.ListAuditTrail(ctx, repo.AuditFilters{
					EntityType: entityType,
					EntityID:   entityID,
					ActorID:    actorID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Entity", "ID", "Action", "Actor", "At"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Seq, row.Record.EntityType, row.Record.EntityID, row.Record.Action, row.Record.ActorID, row.Record.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	cmd.Flags().IntVar(&limit, "n", 20, "number of records")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var unreadOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor-id"), unreadOnly, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only unread")
	cmd.Flags().IntVar(&limit, "n", 20, "number of notifications")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Issue an API key (printed once, only the hash is stored)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.EnsureUser(ctx, userID, now); err != nil {
					return err
				}
				key := repo.APIKey{
					ID:        uuid.New().String(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: now,
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println(raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("%s at schema version %d\n", db.Path(workspace), v)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("TASKLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set server.jwt_secret or TASKLINE_JWT_SECRET")
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookRelay(cmd.Context(), e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withConn(ctx, func(ctx context.Context, conn *engineConn) error {
		return fn(ctx, conn.engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withConn(ctx, func(ctx context.Context, conn *engineConn) error {
		return fn(ctx, conn.engine.Repo)
	})
}

type engineConn struct {
	engine engine.Engine
}

func withConn(ctx context.Context, fn func(context.Context, *engineConn) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, &engineConn{engine: engine.New(conn, cfg)})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTree(t domain.Task, children map[string][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s] v%d\n", prefix, connector, t.Title, t.Status, t.Version)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}
