package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/paddock/pkg/types"
)

// Egg commands
var eggCmd = &cobra.Command{
	Use:   "egg",
	Short: "Manage eggs",
}

var eggImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an egg from a YAML file",
	Long: `Import an egg definition from a YAML file.

Example egg:
  name: Minecraft Java
  docker_image: ghcr.io/games/minecraft:java21
  startup: java -Xms128M -jar server.jar
  script_container: ghcr.io/installers/debian:bookworm
  script_entry: bash
  script_install: |
    curl -o server.jar https://example.com/server.jar`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		egg, err := loadEgg(filename)
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		created, err := c.ImportEgg(egg)
		if err != nil {
			return fmt.Errorf("failed to import egg: %v", err)
		}
		fmt.Printf("✓ Egg imported: %s (%s)\n", created.Name, created.ID)
		return nil
	},
}

var eggListCmd = &cobra.Command{
	Use:   "list",
	Short: "List eggs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		eggs, err := c.ListEggs()
		if err != nil {
			return fmt.Errorf("failed to list eggs: %v", err)
		}
		fmt.Printf("%-8s %-24s %s\n", "ID", "NAME", "IMAGE")
		for _, e := range eggs {
			fmt.Printf("%-8s %-24s %s\n", e.ID, e.Name, e.DockerImage)
		}
		return nil
	},
}

func init() {
	eggCmd.AddCommand(eggImportCmd)
	eggCmd.AddCommand(eggListCmd)

	eggImportCmd.Flags().StringP("file", "f", "", "YAML file to import (required)")
	_ = eggImportCmd.MarkFlagRequired("file")
}

// loadEgg reads and checks an egg definition
func loadEgg(filename string) (*types.Egg, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}

	var egg types.Egg
	if err := yaml.Unmarshal(data, &egg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	if egg.Name == "" || egg.DockerImage == "" || egg.Startup == "" {
		return nil, fmt.Errorf("egg needs name, docker_image and startup")
	}
	return &egg, nil
}
