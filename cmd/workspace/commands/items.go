package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskmaster/workspace/internal/domain/entities"
)

// NewTaskCommand creates the task command with subcommands
func NewTaskCommand() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	var (
		due      string
		dueTime  string
		priority string
		project  string
		area     string
		notes    string
		focus    bool
	)
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			fields := entities.Fields{
				"title":    strings.Join(args, " "),
				"dueDate":  due,
				"dueTime":  dueTime,
				"priority": priority,
				"notes":    notes,
				"focus":    focus,
			}
			setRef(fields, "projectId", project)
			setRef(fields, "areaId", area)

			task, err := ws.store.CreateTask(fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added task %s\n", task.ID)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&dueTime, "at", "", "Due time (HH:MM)")
	addCmd.Flags().StringVar(&priority, "priority", string(entities.PriorityMedium), "Priority (low, med, high)")
	addCmd.Flags().StringVar(&project, "project", "", "Project id")
	addCmd.Flags().StringVar(&area, "area", "", "Area id")
	addCmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	addCmd.Flags().BoolVar(&focus, "focus", false, "Mark as a focus task")

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			doc := ws.store.Document()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRI\tDUE\tPROJECT\tTITLE")
			for i := range doc.Tasks {
				task := &doc.Tasks[i]
				if !all && !task.IsOpen() {
					continue
				}
				title := task.Title
				if task.Focus {
					title = "* " + title
				}
				if done, total := task.ChecklistProgress(); total > 0 {
					title = fmt.Sprintf("%s [%d/%d]", title, done, total)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					task.ID, task.Status, task.Priority, task.DueDate, doc.ProjectName(task.ProjectID), title)
			}
			return w.Flush()
		}),
	}
	listCmd.Flags().BoolVar(&all, "all", false, "Include done and archived tasks")

	statusCmd := &cobra.Command{
		Use:   "status <id> <todo|doing|done>",
		Short: "Change a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.SetTaskStatus(args[0], entities.TaskStatus(args[1]))
		}),
	}

	doneCmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.SetTaskStatus(args[0], entities.TaskStatusDone)
		}),
	}

	var off bool
	focusCmd := &cobra.Command{
		Use:   "focus <id>",
		Short: "Add a task to the focus list",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.SetFocus(args[0], !off)
		}),
	}
	focusCmd.Flags().BoolVar(&off, "off", false, "Remove the task from the focus list")

	archiveCmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a task",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.ArchiveTask(args[0])
		}),
	}

	taskCmd.AddCommand(addCmd, listCmd, statusCmd, doneCmd, focusCmd, archiveCmd)
	return taskCmd
}

// NewInboxCommand creates the inbox command with subcommands
func NewInboxCommand() *cobra.Command {
	inboxCmd := &cobra.Command{
		Use:   "inbox",
		Short: "Capture and process quick notes",
	}

	var kind string
	addCmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Capture an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			capture, err := ws.store.CreateInboxCapture(entities.Fields{
				"title": strings.Join(args, " "),
				"kind":  kind,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captured %s\n", capture.ID)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&kind, "kind", string(entities.CaptureKindTask), "Suggested kind (task, note, event)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List inbox items",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			doc := ws.store.Document()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCAPTURED\tTITLE")
			for _, capture := range doc.Inbox {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					capture.ID, capture.Kind, capture.CreatedAt.Local().Format("2006-01-02 15:04"), capture.Title)
			}
			return w.Flush()
		}),
	}

	var (
		as    string
		title string
	)
	processCmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Turn an inbox item into a task, note or event",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			id, err := ws.store.ProcessInboxCapture(args[0], entities.CaptureKind(as), title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", id)
			return nil
		}),
	}
	processCmd.Flags().StringVar(&as, "as", "", "Kind to create (defaults to the captured suggestion)")
	processCmd.Flags().StringVar(&title, "title", "", "Title override")

	inboxCmd.AddCommand(addCmd, listCmd, processCmd)
	return inboxCmd
}

// NewEventCommand creates the event command with subcommands
func NewEventCommand() *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manage calendar events",
	}

	var (
		date       string
		start      string
		duration   int
		location   string
		recurrence string
		project    string
	)
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add an event",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			fields := entities.Fields{
				"title":      strings.Join(args, " "),
				"date":       date,
				"start":      start,
				"location":   location,
				"recurrence": recurrence,
			}
			if duration > 0 {
				fields["duration"] = duration
			}
			setRef(fields, "projectId", project)

			event, err := ws.store.CreateEvent(fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added event %s on %s %s-%s\n", event.ID, event.Date, event.Start, event.End())
			return nil
		}),
	}
	addCmd.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD, defaults to today)")
	addCmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	addCmd.Flags().IntVar(&duration, "duration", 0, "Duration in minutes (defaults to the workspace setting)")
	addCmd.Flags().StringVar(&location, "location", "", "Location")
	addCmd.Flags().StringVar(&recurrence, "repeat", string(entities.RecurrenceNone), "Recurrence (none, daily, weekly, monthly)")
	addCmd.Flags().StringVar(&project, "project", "", "Project id")

	archiveCmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive an event",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.ArchiveEvent(args[0])
		}),
	}

	eventCmd.AddCommand(addCmd, archiveCmd)
	return eventCmd
}

// NewNoteCommand creates the note command with subcommands
func NewNoteCommand() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}

	var (
		text    string
		project string
		area    string
	)
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			fields := entities.Fields{"title": strings.Join(args, " ")}
			if text != "" {
				fields["blocks"] = []any{map[string]any{"type": string(entities.BlockTypeText), "text": text}}
			}
			setRef(fields, "projectId", project)
			setRef(fields, "areaId", area)

			note, err := ws.store.CreateNote(fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added note %s\n", note.ID)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&text, "text", "", "Body text")
	addCmd.Flags().StringVar(&project, "project", "", "Project id")
	addCmd.Flags().StringVar(&area, "area", "", "Area id")

	archiveCmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a note",
		Args:  cobra.ExactArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.ArchiveNote(args[0])
		}),
	}

	noteCmd.AddCommand(addCmd, archiveCmd)
	return noteCmd
}

// NewProjectCommand creates the project command with subcommands
func NewProjectCommand() *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	var (
		objective string
		area      string
	)
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			fields := entities.Fields{
				"name":      strings.Join(args, " "),
				"objective": objective,
			}
			setRef(fields, "areaId", area)

			project, err := ws.store.CreateProject(fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added project %s\n", project.ID)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&objective, "objective", "", "What the project should achieve")
	addCmd.Flags().StringVar(&area, "area", "", "Area id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: withWorkspace(false, func(cmd *cobra.Command, args []string, ws *workspace) error {
			doc := ws.store.Document()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAREA\tPROGRESS\tNAME")
			for i := range doc.Projects {
				project := &doc.Projects[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n",
					project.ID, project.Status, doc.AreaName(project.AreaID), project.MilestoneProgress(), project.Name)
			}
			return w.Flush()
		}),
	}

	projectCmd.AddCommand(addCmd, listCmd)
	return projectCmd
}

// NewAreaCommand creates the area command with subcommands
func NewAreaCommand() *cobra.Command {
	areaCmd := &cobra.Command{
		Use:   "area",
		Short: "Manage areas of responsibility",
	}

	var objective string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an area",
		Args:  cobra.MinimumNArgs(1),
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			area, err := ws.store.CreateArea(entities.Fields{
				"name":      strings.Join(args, " "),
				"objective": objective,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added area %s\n", area.ID)
			return nil
		}),
	}
	addCmd.Flags().StringVar(&objective, "objective", "", "What the area covers")

	areaCmd.AddCommand(addCmd)
	return areaCmd
}

// NewReviewCommand records a completed weekly review
func NewReviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Record a completed weekly review",
		RunE: withWorkspace(true, func(cmd *cobra.Command, args []string, ws *workspace) error {
			return ws.store.MarkReviewed()
		}),
	}
}

func setRef(fields entities.Fields, key, id string) {
	if id = strings.TrimSpace(id); id != "" {
		fields[key] = id
	}
}
