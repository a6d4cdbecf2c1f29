// cmd/storyctl/projects.go
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
	"github.com/sumanurawat/storyboarder/internal/storage"
)

func newProjectsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project", "p"},
		Short:   "List, create, inspect, rename and delete projects",
	}
	cmd.AddCommand(
		newProjectsListCmd(opts),
		newProjectsCreateCmd(opts),
		newProjectsShowCmd(opts),
		newProjectsRenameCmd(opts),
		newProjectsDeleteCmd(opts),
	)
	return cmd
}

// projectService 命令行只做项目管理，不需要生成后端
func projectService(s *session) *services.ProjectService {
	return services.NewProjectService(s.repo, nil, services.TurnOptions{Log: s.entry("projects")})
}

func newProjectsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			summaries, err := s.repo.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No projects yet. Create one with: storyctl projects create <name>")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUPDATED")
			for _, p := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newProjectsCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Create a project (blank name uses the starter name)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := projectService(s)
			defer svc.Close()
			controller, err := svc.Create(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			doc := controller.Document()
			if opts.json {
				return printJSON(cmd.OutOrStdout(), doc.Summary())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q (%s)\n", doc.Name, doc.ID)
			return nil
		},
	}
}

func newProjectsShowCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a project document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.json {
				format = "json"
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := loadDocument(cmd, s, args[0])
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), doc, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	return cmd
}

func newProjectsRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if name == "" {
				return errors.New("name must not be blank")
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := projectService(s)
			defer svc.Close()
			if err := svc.Rename(cmd.Context(), args[0], name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], name)
			return nil
		},
	}
}

func newProjectsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := loadDocument(cmd, s, args[0]); err != nil {
				return err
			}
			svc := projectService(s)
			defer svc.Close()
			if _, err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func loadDocument(cmd *cobra.Command, s *session, id string) (*models.Document, error) {
	if err := storage.ValidateKey(id); err != nil {
		return nil, fmt.Errorf("invalid project id %q", id)
	}
	doc, err := s.repo.LoadDocument(cmd.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("project %s not found", id)
	}
	return doc, err
}

// writeDocument 按格式输出文档；yaml 经由 JSON 转换以保持字段名一致
func writeDocument(w io.Writer, doc *models.Document, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return printJSON(w, doc)
	case "yaml", "yml":
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(generic); err != nil {
			return err
		}
		return encoder.Close()
	case "text", "":
		return writeDocumentText(w, doc)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func writeDocumentText(w io.Writer, doc *models.Document) error {
	fmt.Fprintf(w, "%s (%s)\n", doc.Name, doc.ID)
	fmt.Fprintf(w, "Updated %s, %d messages, %d scenes\n\n",
		doc.UpdatedAt.Local().Format(time.DateTime), len(doc.Messages), doc.Storyboard.SceneCount())

	if len(doc.Entities.Characters) > 0 {
		fmt.Fprintln(w, "Characters:")
		for _, c := range doc.Entities.Characters {
			fmt.Fprintf(w, "  %-16s %-12s %s\n", c.ID, c.Role, c.Description)
		}
		fmt.Fprintln(w)
	}
	if len(doc.Entities.Locations) > 0 {
		fmt.Fprintln(w, "Locations:")
		for _, l := range doc.Entities.Locations {
			fmt.Fprintf(w, "  %-16s %s\n", l.ID, l.Description)
		}
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, act := range doc.Storyboard.Acts {
		fmt.Fprintf(tw, "Act %d: %s\n", act.Number, act.Title)
		for _, seq := range act.Sequences {
			fmt.Fprintf(tw, "  Sequence %d: %s\n", seq.Number, seq.Title)
			for _, scene := range seq.Scenes {
				fmt.Fprintf(tw, "    %s\t%s\t%s\n", scene.SceneNumber, scene.Title, scene.Location)
			}
		}
	}
	return tw.Flush()
}
