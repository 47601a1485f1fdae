package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

var (
	tmplName     string
	tmplCategory string
	tmplSubject  string
	tmplHTMLFile string
	tmplTextFile string
	tmplInactive bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show template content",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Create or update a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateSet,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

func init() {
	templateSetCmd.Flags().StringVar(&tmplName, "name", "", "Display name (defaults to the key)")
	templateSetCmd.Flags().StringVar(&tmplCategory, "category", "", "Template category")
	templateSetCmd.Flags().StringVar(&tmplSubject, "subject", "", "Subject line (required)")
	templateSetCmd.Flags().StringVar(&tmplHTMLFile, "html-file", "", "Path to the HTML body")
	templateSetCmd.Flags().StringVar(&tmplTextFile, "text-file", "", "Path to the text body")
	templateSetCmd.Flags().BoolVar(&tmplInactive, "inactive", false, "Create the template deactivated")

	templateCmd.AddCommand(templateListCmd, templateShowCmd, templateSetCmd, templateDeleteCmd)
	rootCmd.AddCommand(templateCmd)
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	templates, err := env.templates.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tCATEGORY\tACTIVE\tUPDATED")
	for _, t := range templates {
		active := "yes"
		if !t.Active {
			active = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.Key, t.Name, t.Category, active, t.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	tmpl, err := env.templates.GetByKey(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl == nil {
		return fmt.Errorf("template not found: %s", args[0])
	}

	fmt.Printf("Key:      %s\n", tmpl.Key)
	fmt.Printf("Name:     %s\n", tmpl.Name)
	if tmpl.Category != "" {
		fmt.Printf("Category: %s\n", tmpl.Category)
	}
	fmt.Printf("Active:   %v\n", tmpl.Active)
	fmt.Printf("Subject:  %s\n", tmpl.Subject)
	if len(tmpl.Variables) > 0 {
		fmt.Println("Variables:")
		for _, v := range tmpl.Variables {
			fmt.Printf("  {{%s}}  %s\n", v.Name, v.Description)
		}
	}
	if tmpl.Text != "" {
		fmt.Printf("\n--- text ---\n%s\n", tmpl.Text)
	}
	if tmpl.HTML != "" {
		fmt.Printf("\n--- html ---\n%s\n", tmpl.HTML)
	}
	return nil
}

func runTemplateSet(cmd *cobra.Command, args []string) error {
	if tmplSubject == "" {
		return fmt.Errorf("--subject is required")
	}
	if tmplHTMLFile == "" && tmplTextFile == "" {
		return fmt.Errorf("at least one of --html-file or --text-file is required")
	}

	var html, text string
	if tmplHTMLFile != "" {
		data, err := os.ReadFile(tmplHTMLFile)
		if err != nil {
			return fmt.Errorf("failed to read html file: %w", err)
		}
		html = string(data)
	}
	if tmplTextFile != "" {
		data, err := os.ReadFile(tmplTextFile)
		if err != nil {
			return fmt.Errorf("failed to read text file: %w", err)
		}
		text = string(data)
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	name := tmplName
	if name == "" {
		name = args[0]
	}

	err = env.templates.Upsert(context.Background(), &models.Template{
		Key:      args[0],
		Name:     name,
		Category: tmplCategory,
		Subject:  tmplSubject,
		HTML:     html,
		Text:     text,
		Active:   !tmplInactive,
	})
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	fmt.Printf("Template %q saved\n", args[0])
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.templates.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	fmt.Printf("Template %q deleted\n", args[0])
	return nil
}
