package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/skills"
)

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage workspace skills",
		Long:  "List, show, install or remove the skill documents under the workspace\nskills directory. A running gateway picks up changes through its file\nwatcher; no restart needed.",
	}
	cmd.AddCommand(skillsListCmd())
	cmd.AddCommand(skillsShowCmd())
	cmd.AddCommand(skillsInstallCmd())
	cmd.AddCommand(skillsRemoveCmd())
	return cmd
}

func openSkillsLoader() (*skills.Loader, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return skills.NewLoader(cfg.WorkspacePath()), nil
}

func skillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			list := loader.List()
			if len(list) == 0 {
				fmt.Printf("No skills installed under %s\n", loader.Dir())
				return nil
			}
			for _, s := range list {
				fmt.Printf("%-20s %s\n", s.Name, s.Description)
			}
			return nil
		},
	}
}

func skillsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a skill document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			s, ok := loader.Get(args[0])
			if !ok {
				return fmt.Errorf("skill %s not installed", args[0])
			}
			fmt.Println(s.Content)
			return nil
		},
	}
}

func skillsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <path>",
		Short: "Install a skill from a directory or Markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			name, err := skills.Install(loader.Dir(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Installed skill %s\n", name)
			return nil
		},
	}
}

func skillsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			if err := skills.Remove(loader.Dir(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed skill %s\n", args[0])
			return nil
		},
	}
}
