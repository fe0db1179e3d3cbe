package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	todo "github.com/chimerakang/todo-go"
	"github.com/spf13/cobra"
)

type tasksOptions struct {
	json bool
}

func newTasksCmd(get func() *app, opts *rootOptions) *cobra.Command {
	topts := &tasksOptions{}
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage your tasks",
	}
	cmd.PersistentFlags().BoolVar(&topts.json, "json", false, "Print JSON")

	// run resolves the saved session before fn runs.
	run := func(fn func(ctx context.Context, a *app, svc todo.TaskService, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			state, err := a.client.Start(ctx)
			if err != nil {
				return err
			}
			if !state.Authenticated {
				return errors.New("not signed in: run `todoctl login` first")
			}
			if err := fn(ctx, a, a.client.Tasks(), args); err != nil {
				return errors.New(userMessage(err))
			}
			return nil
		}
	}

	show := func(a *app, t *todo.Task) error {
		if topts.json {
			return writeJSON(a.out, t)
		}
		printTask(a.out, t)
		return nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, svc todo.TaskService, _ []string) error {
			items, err := svc.List(ctx)
			if err != nil {
				return err
			}
			if topts.json {
				return writeJSON(a.out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(a.out, "No tasks")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDONE\tTITLE")
			for _, t := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, check(t.Completed), t.Title)
			}
			return tw.Flush()
		}),
	}

	getCmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, svc todo.TaskService, args []string) error {
			t, err := svc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return show(a, t)
		}),
	}

	var description string
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, svc todo.TaskService, args []string) error {
			t, err := svc.Create(ctx, todo.TaskInput{Title: args[0], Description: description})
			if err != nil {
				return err
			}
			return show(a, t)
		}),
	}
	add.Flags().StringVar(&description, "description", "", "Task description")

	var title, newDescription string
	update := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Change a task's title or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch todo.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &newDescription
			}
			if patch.Title == nil && patch.Description == nil {
				return errors.New("nothing to update: pass --title or --description")
			}
			return run(func(ctx context.Context, a *app, svc todo.TaskService, args []string) error {
				t, err := svc.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return show(a, t)
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&title, "title", "", "New title")
	update.Flags().StringVar(&newDescription, "description", "", "New description")

	completion := func(use, short string, completed bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <task-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, a *app, svc todo.TaskService, args []string) error {
				t, err := svc.SetCompleted(ctx, args[0], completed)
				if err != nil {
					return err
				}
				return show(a, t)
			}),
		}
	}

	rm := &cobra.Command{
		Use:     "rm <task-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, svc todo.TaskService, args []string) error {
			if err := svc.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Task deleted")
			return nil
		}),
	}

	cmd.AddCommand(list, getCmd, add, update,
		completion("done", "Mark a task completed", true),
		completion("undone", "Mark a task not completed", false),
		rm,
	)
	return cmd
}

// userMessage returns the message of the typed error inside err.
func userMessage(err error) string {
	var (
		al *todo.AutoLoginAfterSignupError
		fe *todo.FederationError
		re *todo.ResourceError
		ae *todo.AuthenticationError
		ve *todo.ValidationError
	)
	switch {
	case errors.As(err, &al):
		return al.Error()
	case errors.As(err, &fe):
		return fe.Error()
	case errors.As(err, &re):
		return re.Message
	case errors.As(err, &ae):
		return ae.Error()
	case errors.As(err, &ve):
		return ve.Error()
	}
	return todo.MessageOf(err)
}

func printTask(w io.Writer, t *todo.Task) {
	fmt.Fprintf(w, "%s  [%s] %s\n", t.ID, check(t.Completed), t.Title)
	if t.Description != "" {
		fmt.Fprintf(w, "    %s\n", t.Description)
	}
}

func check(done bool) string {
	if done {
		return "x"
	}
	return " "
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
